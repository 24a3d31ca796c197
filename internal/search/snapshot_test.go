// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pdiddy/repurpose-engine/pkg/types"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.yaml")
	q := testQuery()
	q.ReviewSeeds = []string{"10.1/review"}
	out := Output{
		Papers: []types.Paper{
			{ID: "1", Title: "A", Source: "pubmed,openalex", HighTrust: true, PatientCountHint: types.IntPtr(4)},
		},
		DupsRemoved:   3,
		Sources:       []string{"pubmed", "openalex"},
		BackendErrors: []string{"europepmc: timeout"},
	}

	if err := WriteSnapshot(path, q, out); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	snap, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}

	got := snap.Output()
	if len(got.Papers) != 1 || got.Papers[0].Source != "pubmed,openalex" || !got.Papers[0].HighTrust {
		t.Errorf("papers = %+v", got.Papers)
	}
	if got.Papers[0].PatientCountHint == nil || *got.Papers[0].PatientCountHint != 4 {
		t.Errorf("patient hint lost")
	}
	if got.DupsRemoved != 3 || len(got.Sources) != 2 || len(got.BackendErrors) != 1 {
		t.Errorf("summary = %+v", snap.Summary)
	}
	rq := snap.Query.ToQuery()
	if rq.Drug != "baricitinib" || rq.Synonym != "Olumiant" || len(rq.ReviewSeeds) != 1 {
		t.Errorf("query = %+v", rq)
	}
}

func TestReadSnapshotMissing(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFormatCSL(t *testing.T) {
	out := Output{Papers: []types.Paper{
		{ID: "1", DOI: "10.1/a", Title: "Journal paper", Venue: "Lancet", Year: 2020},
		{DOI: "10.1101/b", Title: "Preprint", IsPreprint: true},
	}}
	var buf bytes.Buffer
	if err := FormatCSL(out, &buf); err != nil {
		t.Fatalf("FormatCSL: %v", err)
	}
	s := buf.String()
	for _, want := range []string{"type: article-journal", "container-title: Lancet", "DOI: 10.1/a", "genre: preprint", "- 2020"} {
		if !strings.Contains(s, want) {
			t.Errorf("CSL missing %q:\n%s", want, s)
		}
	}
}

const jatsDoc = `<article>
<front><article-meta><title-group><article-title>Front title</article-title></title-group></article-meta></front>
<body>
<sec><title>Methods</title><p>We treated   twelve patients.</p></sec>
<sec><title>Results</title><p>Ten of twelve
  responded.</p>
<table-wrap><table><tr><td>A</td><td>B</td></tr></table></table-wrap></sec>
</body>
<back><ref-list><ref>Ignored</ref></ref-list></back>
</article>`

func TestFullTextFetcher(t *testing.T) {
	withServer(t, &europePMCFullTextBase, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/PMC42/fullTextXML" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, jatsDoc)
	})

	f := &FullTextFetcher{Client: http.DefaultClient}
	text, err := f.Fetch(context.Background(), types.Paper{SecondaryID: "pmc42", HasFullText: true})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	want := "## Methods\nWe treated twelve patients.\n## Results\nTen of twelve responded.\nA B"
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}

	_, err = f.Fetch(context.Background(), types.Paper{SecondaryID: "PMC1", HasFullText: true})
	if !errors.Is(err, ErrNoFullText) {
		t.Errorf("404 err = %v, want ErrNoFullText", err)
	}
}

func TestFullTextFetcherRequiresPMCID(t *testing.T) {
	f := &FullTextFetcher{Client: http.DefaultClient}
	if _, err := f.Fetch(context.Background(), types.Paper{ID: "1", HasFullText: true}); !errors.Is(err, ErrNoFullText) {
		t.Errorf("err = %v", err)
	}
	if _, err := f.Fetch(context.Background(), types.Paper{SecondaryID: "PMC1"}); !errors.Is(err, ErrNoFullText) {
		t.Errorf("err = %v", err)
	}
}
