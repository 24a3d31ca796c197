// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pdiddy/repurpose-engine/internal/httputil"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// europePMCFullTextBase is the Europe PMC full-text XML endpoint root.
var europePMCFullTextBase = "https://www.ebi.ac.uk/europepmc/webservices/rest"

// ErrNoFullText is returned when a paper has no open full text.
var ErrNoFullText = errors.New("no open full text")

// FullTextFetcher retrieves open-access body text from Europe PMC by
// PMCID.
type FullTextFetcher struct {
	Client    *http.Client
	UserAgent string
}

// Fetch returns the plain body text of p. Papers without a PMCID or
// without open full text return ErrNoFullText.
func (f *FullTextFetcher) Fetch(ctx context.Context, p types.Paper) (string, error) {
	pmcid := NormalizePMCID(p.SecondaryID)
	if pmcid == "" || !p.HasFullText {
		return "", ErrNoFullText
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, europePMCFullTextBase+"/"+pmcid+"/fullTextXML", nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, f.Client, req, 0)
	if err != nil {
		return "", fmt.Errorf("Europe PMC full text: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrNoFullText
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("Europe PMC full text returned HTTP %d", resp.StatusCode)
	}
	return bodyText(resp.Body)
}

// bodyText walks a JATS document and returns the character data inside
// <body>, one paragraph per line, with section titles written as "## "
// headings.
func bodyText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var b strings.Builder
	inBody := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing full text: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "body":
				inBody++
			case t.Name.Local == "title" && inBody > 0:
				b.WriteString("\n## ")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "body":
				inBody--
			case "p", "title", "tr":
				if inBody > 0 {
					b.WriteByte('\n')
				}
			case "td", "th":
				if inBody > 0 {
					b.WriteByte(' ')
				}
			}
		case xml.CharData:
			if inBody > 0 {
				b.WriteString(strings.ReplaceAll(string(t), "\n", " "))
			}
		}
	}

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n"), nil
}
