// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package scoring rates the quality of a single study on six dimensions.
// Scores depend only on the Extraction; cross-study context belongs to
// package aggregate.
package scoring

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// dimensionWeights of the six dimensions in the total. They sum to 1.
var dimensionWeights = map[string]float64{
	types.DimEfficacyRigor:      0.25,
	types.DimSampleSize:         0.15,
	types.DimEndpointQuality:    0.20,
	types.DimBiomarkerSupport:   0.10,
	types.DimResponseDefinition: 0.15,
	types.DimFollowUp:           0.15,
}

// Weights returns a copy of the dimension weights keyed by label.
func Weights() map[string]float64 {
	out := make(map[string]float64, len(dimensionWeights))
	for k, v := range dimensionWeights {
		out[k] = v
	}
	return out
}

// ValidatedScales are outcome instruments recognized as validated.
var ValidatedScales = []string{
	"pasi", "easi", "scorad", "salt", "vasi", "cdasi", "clasi", "hiscr",
	"acr20", "acr50", "acr70", "das28", "sledai", "bicla", "sri-4", "mrss",
	"essdai", "uas7", "iga", "pga", "mmt-8", "tis", "basdai", "asdas",
	"nrs", "dlqi", "cgvhd", "nih", "ctcae",
}

var (
	levelBase = map[types.EvidenceLevel]float64{
		types.EvidenceMetaAnalysis:  10,
		types.EvidenceRCT:           9,
		types.EvidenceProspective:   7,
		types.EvidenceRetrospective: 5,
		types.EvidenceCaseSeries:    4,
		types.EvidenceCaseReport:    2,
	}

	durationRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(day|week|wk|month|mo|year|yr)s?\b`)
	wordRe     = regexp.MustCompile(`[a-z0-9-]+`)
)

// Score computes the StudyScore for e. It is a pure function.
func Score(e *types.Extraction) types.StudyScore {
	s := types.StudyScore{
		EfficacyRigor:      efficacyRigor(e),
		SampleSize:         sampleSize(e.Population.NPatients),
		EndpointQuality:    endpointQuality(e),
		BiomarkerSupport:   biomarkerSupport(e.Efficacy),
		ResponseDefinition: responseDefinition(e.Efficacy),
		FollowUp:           DurationBand(FollowUpWeeks(e)),
	}
	dims := s.Dimensions()
	var total float64
	for _, dim := range types.StudyDimensions {
		total += dimensionWeights[dim] * dims[dim]
	}
	s.Total = math.Round(total*100) / 100
	return s
}

// ScoreAll scores every extraction and records the total on it.
func ScoreAll(es []*types.Extraction) []types.StudyScore {
	out := make([]types.StudyScore, len(es))
	for i, e := range es {
		out[i] = Score(e)
		e.IndividualScore = types.FloatPtr(out[i].Total)
	}
	return out
}

func efficacyRigor(e *types.Extraction) float64 {
	v, ok := levelBase[e.EvidenceLevel]
	if !ok {
		v = 1
	}
	if strings.TrimSpace(e.Efficacy.PrimaryEndpoint) != "" {
		v++
	}
	if e.Efficacy.MetricConfidence >= 0.8 {
		v++
	}
	return clamp(v)
}

// sampleSize is calibrated for case-series literature: 20 patients is
// already the top band.
func sampleSize(n *int) float64 {
	switch {
	case n == nil || *n <= 0:
		return 1
	case *n >= 20:
		return 10
	case *n >= 10:
		return 8
	case *n >= 5:
		return 6
	case *n >= 3:
		return 4
	case *n == 2:
		return 3
	default:
		return 2
	}
}

func endpointQuality(e *types.Extraction) float64 {
	eff := e.Efficacy
	text := eff.PrimaryEndpoint + " " + eff.ResponseCriteria
	switch {
	case mentionsScale(text):
		return 9
	case eff.ResponseRatePct != nil || eff.RespondersN != nil || strings.ContainsAny(eff.PrimaryEndpoint, "0123456789%"):
		return 7
	case strings.TrimSpace(eff.PrimaryEndpoint+eff.Summary) != "":
		return 4
	default:
		return 1
	}
}

func biomarkerSupport(eff types.Efficacy) float64 {
	n := len(eff.Biomarkers)
	switch {
	case n >= 3 && eff.BiomarkerChange:
		return 10
	case n >= 1 && eff.BiomarkerChange:
		return 8
	case n >= 1:
		return 6
	default:
		return 3
	}
}

func responseDefinition(eff types.Efficacy) float64 {
	criteria := strings.TrimSpace(eff.ResponseCriteria)
	switch {
	case criteria != "" && mentionsScale(criteria):
		return 9
	case criteria != "" && strings.ContainsAny(criteria, "0123456789%"):
		return 7
	case criteria != "":
		return 5
	case eff.ResponseRateText != "" || eff.MetricType == types.MetricResponseRate || eff.MetricType == types.MetricRemission:
		return 3
	default:
		return 1
	}
}

// DurationBand maps a duration in weeks onto the 1-10 scale.
func DurationBand(weeks *float64) float64 {
	switch {
	case weeks == nil || *weeks <= 0:
		return 1
	case *weeks >= 52:
		return 10
	case *weeks >= 24:
		return 8
	case *weeks >= 12:
		return 6
	case *weeks >= 4:
		return 4
	default:
		return 2
	}
}

// FollowUpWeeks returns the follow-up in weeks from the structured field,
// the follow-up text, or the treatment duration, in that order.
func FollowUpWeeks(e *types.Extraction) *float64 {
	if e.FollowUpWeeks != nil && *e.FollowUpWeeks > 0 {
		return e.FollowUpWeeks
	}
	if w, ok := ParseWeeks(e.FollowUp); ok {
		return &w
	}
	if e.Treatment.DurationWeeks != nil && *e.Treatment.DurationWeeks > 0 {
		return e.Treatment.DurationWeeks
	}
	if w, ok := ParseWeeks(e.Treatment.Duration); ok {
		return &w
	}
	return nil
}

// ParseWeeks reads the first "<n> days|weeks|months|years" in s.
func ParseWeeks(s string) (float64, bool) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "day":
		v /= 7
	case "month", "mo":
		v *= 52.0 / 12
	case "year", "yr":
		v *= 52
	}
	return v, true
}

// mentionsScale reports whether text names a validated instrument as a
// whole word (so "tis" does not match "dermatitis").
func mentionsScale(text string) bool {
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		for _, s := range ValidatedScales {
			if w == s || strings.TrimRight(w, "0123456789-") == s {
				return true
			}
		}
	}
	return false
}

func clamp(v float64) float64 {
	return math.Max(1, math.Min(10, v))
}
