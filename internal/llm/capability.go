// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pdiddy/repurpose-engine/internal/observability"
)

// backoffBase controls the base duration for exponential backoff. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

// JSONCapability implements Capability on top of any Completer by
// rendering prompts and parsing JSON replies. Transport errors and
// malformed replies are retried with exponential backoff.
type JSONCapability struct {
	completer  Completer
	maxRetries int
}

// NewJSONCapability wraps c. A negative maxRetries is treated as zero.
func NewJSONCapability(c Completer, maxRetries int) *JSONCapability {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &JSONCapability{completer: c, maxRetries: maxRetries}
}

// Name returns the provider name.
func (c *JSONCapability) Name() string { return c.completer.Provider() }

// ClassifyBatch classifies req.Items in one call. Items the model did not
// answer for are absent from the result; the caller decides how to treat
// them.
func (c *JSONCapability) ClassifyBatch(ctx context.Context, req ClassifyRequest) ([]Decision, error) {
	if len(req.Items) == 0 {
		return nil, nil
	}
	prompt, err := renderClassify(req)
	if err != nil {
		return nil, err
	}
	obj, err := c.callWithRetry(ctx, "classify", prompt)
	if err != nil {
		return nil, err
	}

	var reply struct {
		Decisions []struct {
			Index    int      `json:"index"`
			Include  bool     `json:"include"`
			Reason   string   `json:"reason"`
			Disease  string   `json:"disease"`
			Patients *int     `json:"patients"`
			Score    *float64 `json:"score"`
		} `json:"decisions"`
	}
	if err := json.Unmarshal(obj, &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	decisions := make([]Decision, 0, len(reply.Decisions))
	seen := make(map[int]bool, len(reply.Decisions))
	for _, d := range reply.Decisions {
		if d.Index < 0 || d.Index >= len(req.Items) || seen[d.Index] {
			continue
		}
		seen[d.Index] = true
		dec := Decision{
			Key:              req.Items[d.Index].Key,
			Include:          d.Include,
			Reason:           d.Reason,
			DiseaseHint:      d.Disease,
			PatientCountHint: d.Patients,
		}
		switch {
		case d.Score != nil:
			dec.Score = math.Max(0, math.Min(1, *d.Score))
		case d.Include:
			dec.Score = 1
		}
		decisions = append(decisions, dec)
	}
	return decisions, nil
}

// Extract returns the JSON object for req.Schema.
func (c *JSONCapability) Extract(ctx context.Context, req ExtractRequest) (json.RawMessage, error) {
	prompt, err := renderExtract(req)
	if err != nil {
		return nil, err
	}
	return c.callWithRetry(ctx, string(req.Schema), prompt)
}

// callWithRetry calls the completer with exponential backoff until it
// returns a parseable JSON object. Context errors are not retried.
func (c *JSONCapability) callWithRetry(ctx context.Context, schema, prompt string) (json.RawMessage, error) {
	provider := c.completer.Provider()
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			observability.CapabilityRetries.WithLabelValues(provider).Inc()
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		start := time.Now()
		raw, err := c.completer.Complete(ctx, systemPrompt, prompt)
		observability.CapabilityCallDuration.WithLabelValues(provider, schema).Observe(time.Since(start).Seconds())
		if err == nil {
			var obj json.RawMessage
			if obj, err = ParseObject(raw); err == nil {
				return obj, nil
			}
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s after %d retries: %w", schema, c.maxRetries, lastErr)
}
