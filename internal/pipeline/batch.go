// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// Factory builds an independent Pipeline for one drug.
type Factory func(drug types.DrugContext) (*Pipeline, error)

// DrugResult pairs a drug with its run outcome.
type DrugResult struct {
	Drug   types.DrugContext
	Result *Result
	Err    error
}

// RunDrugs analyzes drugs with at most limit pipelines in flight. Each
// drug gets its own Pipeline from factory; a failing drug does not stop
// the others. Results are returned in input order together with the
// joined errors.
func RunDrugs(ctx context.Context, factory Factory, drugs []types.DrugContext, opts RunOptions, limit int) ([]DrugResult, error) {
	if limit <= 0 {
		limit = 2
	}
	out := make([]DrugResult, len(drugs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, drug := range drugs {
		i, drug := i, drug
		out[i].Drug = drug
		g.Go(func() error {
			p, err := factory(drug)
			if err != nil {
				out[i].Err = fmt.Errorf("%s: %w", drug.Name, err)
				return nil
			}
			res, err := p.Run(ctx, drug, opts)
			out[i].Result = res
			if err != nil {
				out[i].Err = fmt.Errorf("%s: %w", drug.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range out {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return out, errors.Join(errs...)
}
