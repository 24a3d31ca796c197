// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pdiddy/repurpose-engine/internal/observability"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// Fixup names, used in metrics.
const (
	FixupPatients      = "n_patients"
	FixupDrugSurvival  = "drug_survival"
	FixupBroadDisease  = "broad_disease"
	FixupResponseRate  = "response_rate"
	FixupEvidenceLevel = "evidence_level"
)

// n_patients derivation sources, most specific first.
const (
	SourceResponseText = "response_rate_text"
	SourceResponders   = "responders"
	SourceDescription  = "population_description"
	SourceAbstract     = "abstract"
)

var (
	fractionRe = regexp.MustCompile(`\b(\d+)\s*/\s*(\d+)\b`)
	outOfRe    = regexp.MustCompile(`(?i)\b(\d+)\s+(?:of|out of)\s+(\d+)\b`)
	percentRe  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	cohortRe   = regexp.MustCompile(`(?i)\b(\d+)\s+(?:consecutive\s+|adult\s+|pediatric\s+|paediatric\s+)?(?:patients|cases|subjects|participants|individuals|children|adults)\b`)
	nEqualsRe  = regexp.MustCompile(`(?i)\bn\s*=\s*(\d+)`)
)

// summaryRatePatterns are tried in order against free-text efficacy
// summaries. Fraction patterns capture (responders, total); percent
// patterns capture the rate.
var summaryRatePatterns = []struct {
	re       *regexp.Regexp
	fraction bool
}{
	{regexp.MustCompile(`(?i)\b(\d+)\s*(?:/|of|out of)\s*(\d+)\s+(?:patients\s+|cases\s+)?(?:responded|improved|achieved|showed|had a|reached)`), true},
	{regexp.MustCompile(`(?i)(?:response|remission|clearance)\s+rate\s+(?:of\s+|was\s+|:\s*)?(\d+(?:\.\d+)?)\s*%`), false},
	{regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*%\s+(?:of\s+patients\s+)?(?:responded|response|remission|improved|improvement|achieved)`), false},
	{regexp.MustCompile(`(?i)\ball\s+(?:\d+\s+)?(?:patients|cases)\s+(?:responded|improved|achieved)`), false},
}

var (
	retentionTerms = []string{
		"drug survival", "retention", "persistence", "remained on",
		"still on", "continued treatment", "continuation rate", "discontinuation",
	}
	responseTerms = []string{"respon", "remission", "improv", "clearance", "pasi", "easi", "salt"}
)

// broadDiseaseLabels are generic labels that do not name an indication.
var broadDiseaseLabels = map[string]bool{
	"":                      true,
	"adverse event":         true,
	"adverse events":        true,
	"adverse drug reaction": true,
	"side effect":           true,
	"side effects":          true,
	"toxicity":              true,
	"unknown":               true,
	"n/a":                   true,
	"none":                  true,
	"other":                 true,
	"various":               true,
	"multiple":              true,
	"multiple diseases":     true,
	"autoimmune disease":    true,
	"autoimmune diseases":   true,
	"inflammatory disease":  true,
	"inflammatory diseases": true,
	"skin disease":          true,
	"off-label use":         true,
}

var (
	metaTerms = []string{"meta-analysis", "meta analysis", "systematic review"}
	caseTerms = []string{"case report", "case series", "a case of", "case-based"}
	rctTerms  = []string{"randomized controlled", "randomised controlled", "randomized", "randomised", "placebo-controlled", "double-blind", "double blind"}
)

// ApplyFixups runs the deterministic fixups on e in fixed order. It is
// idempotent and only touches e.
func ApplyFixups(e *types.Extraction, p types.Paper, cfg types.ReconcileConfig, logger *zerolog.Logger) {
	logger = observability.OrNop(logger)

	r := ReconcilePatients(e, p.Abstract, cfg)
	if r.Disagreement() {
		ev := logger.Warn().
			Str("paper", e.PaperKey).
			Int("stated", *r.Stated).
			Int("derived", *r.Derived).
			Str("source", r.Source)
		if r.Changed {
			ev.Msg("n_patients corrected")
		} else {
			ev.Bool("implausible", r.Rejected).Msg("n_patients kept")
		}
	}
	if r.Changed {
		observability.FixupsApplied.WithLabelValues(FixupPatients).Inc()
	}

	for _, f := range []struct {
		name string
		fn   func(*types.Extraction) bool
	}{
		{FixupDrugSurvival, reclassifyRetention},
		{FixupBroadDisease, flagBroadDisease},
		{FixupResponseRate, inferResponseRate},
		{FixupEvidenceLevel, func(e *types.Extraction) bool { return correctEvidenceLevel(e, p.Title) }},
	} {
		if f.fn(e) {
			observability.FixupsApplied.WithLabelValues(f.name).Inc()
		}
	}
}

// Reconciliation records how n_patients was settled.
type Reconciliation struct {
	Stated  *int
	Derived *int
	Source  string

	// Changed is set when n_patients was filled or corrected.
	Changed bool

	// Rejected is set when the derived value was implausible next to the
	// stated one.
	Rejected bool
}

// Disagreement reports whether a stated and a derived count differ.
func (r Reconciliation) Disagreement() bool {
	return r.Stated != nil && r.Derived != nil && *r.Stated != *r.Derived
}

// ReconcilePatients settles n_patients. The derived count comes from the
// first source that yields one: response-rate text, responder
// count/percentage, population description, then abstract. A missing
// count is filled from it. A stated count is corrected only from the two
// efficacy-derived sources and never when the pair is implausible: ratio
// above cfg.RatioThreshold with the smaller value under
// cfg.SmallValueCeiling.
func ReconcilePatients(e *types.Extraction, abstract string, cfg types.ReconcileConfig) Reconciliation {
	var r Reconciliation
	if n := e.Population.NPatients; n != nil && *n > 0 {
		r.Stated = types.IntPtr(*n)
	}
	r.Derived, r.Source = derivePatients(e, abstract)

	switch {
	case r.Derived == nil:
	case r.Stated == nil:
		e.Population.NPatients = types.IntPtr(*r.Derived)
		e.Annotate(fmt.Sprintf("n_patients %d from %s", *r.Derived, r.Source))
		r.Changed = true
	case *r.Stated == *r.Derived:
	case implausible(*r.Stated, *r.Derived, cfg):
		r.Rejected = true
		e.Annotate(fmt.Sprintf("n_patients %d kept over implausible %s value %d", *r.Stated, r.Source, *r.Derived))
	case r.Source == SourceResponseText || r.Source == SourceResponders:
		e.Population.NPatients = types.IntPtr(*r.Derived)
		e.Annotate(fmt.Sprintf("n_patients %d corrected to %d from %s", *r.Stated, *r.Derived, r.Source))
		r.Changed = true
	default:
		e.Annotate(fmt.Sprintf("n_patients %d kept over %s value %d", *r.Stated, r.Source, *r.Derived))
	}
	return r
}

func derivePatients(e *types.Extraction, abstract string) (*int, string) {
	if _, total, ok := parseFraction(e.Efficacy.ResponseRateText); ok {
		return &total, SourceResponseText
	}
	if n, pct := e.Efficacy.RespondersN, e.Efficacy.RespondersPct; n != nil && pct != nil && *pct > 0 && *pct <= 100 && *n > 0 {
		total := int(math.Round(float64(*n) * 100 / *pct))
		return &total, SourceResponders
	}
	if n, ok := parseCohort(e.Population.Description); ok {
		return &n, SourceDescription
	}
	if n, ok := parseCohort(abstract); ok {
		return &n, SourceAbstract
	}
	return nil, ""
}

func implausible(a, b int, cfg types.ReconcileConfig) bool {
	ratio, ceiling := cfg.RatioThreshold, cfg.SmallValueCeiling
	if ratio <= 0 {
		ratio = 10
	}
	if ceiling <= 0 {
		ceiling = 10
	}
	lo, hi := min(a, b), max(a, b)
	if lo <= 0 {
		return true
	}
	return float64(hi)/float64(lo) > ratio && lo < ceiling
}

// parseFraction finds "a/b" or "a of b" with 0 <= a <= b.
func parseFraction(s string) (int, int, bool) {
	for _, re := range []*regexp.Regexp{fractionRe, outOfRe} {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		if b > 0 && a <= b {
			return a, b, true
		}
	}
	return 0, 0, false
}

func parseCohort(s string) (int, bool) {
	for _, re := range []*regexp.Regexp{nEqualsRe, cohortRe} {
		if m := re.FindStringSubmatch(s); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				return n, true
			}
		}
	}
	return 0, false
}

// reclassifyRetention moves a retention figure reported as a response
// rate into DrugSurvivalPct.
func reclassifyRetention(e *types.Extraction) bool {
	switch e.Efficacy.MetricType {
	case types.MetricUnknown, types.MetricResponseRate, types.MetricOther:
	default:
		return false
	}
	text := strings.ToLower(e.Efficacy.ResponseRateText + " " + e.Efficacy.PrimaryEndpoint)
	if strings.TrimSpace(text) == "" {
		text = strings.ToLower(e.Efficacy.Summary)
	}
	if !containsAny(text, retentionTerms) || containsAny(text, responseTerms) {
		return false
	}
	e.Efficacy.MetricType = types.MetricDrugSurvival
	if e.Efficacy.DrugSurvivalPct == nil {
		e.Efficacy.DrugSurvivalPct = e.Efficacy.ResponseRatePct
	}
	e.Efficacy.ResponseRatePct = nil
	e.Annotate("response rate reclassified as drug survival")
	return true
}

// flagBroadDisease marks labels that do not name an indication.
func flagBroadDisease(e *types.Extraction) bool {
	label := strings.ToLower(strings.TrimSpace(e.Disease))
	if !broadDiseaseLabels[label] {
		return false
	}
	e.DiseaseTooBroad = true
	e.Annotate(fmt.Sprintf("disease label %q too broad", e.Disease))
	return true
}

// inferResponseRate fills ResponseRatePct from the response-rate text,
// then from the efficacy summary.
func inferResponseRate(e *types.Extraction) bool {
	if e.Efficacy.ResponseRatePct != nil || e.Efficacy.MetricType == types.MetricDrugSurvival {
		return false
	}

	pct, responders, field, ok := rateFromText(e.Efficacy.ResponseRateText)
	if !ok {
		pct, responders, ok = rateFromSummary(e.Efficacy.Summary)
		field = "summary"
	}
	if !ok {
		return false
	}

	e.Efficacy.ResponseRatePct = types.FloatPtr(pct)
	if e.Efficacy.RespondersN == nil && responders != nil {
		e.Efficacy.RespondersN = responders
	}
	if e.Efficacy.MetricType == types.MetricUnknown {
		e.Efficacy.MetricType = types.MetricResponseRate
	}
	e.Annotate(fmt.Sprintf("response rate %.1f%% inferred from %s", pct, field))
	return true
}

func rateFromText(s string) (float64, *int, string, bool) {
	if a, b, ok := parseFraction(s); ok {
		return round1(float64(a) * 100 / float64(b)), types.IntPtr(a), "response_rate_text", true
	}
	if m := percentRe.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v <= 100 {
			return round1(v), nil, "response_rate_text", true
		}
	}
	return 0, nil, "", false
}

func rateFromSummary(s string) (float64, *int, bool) {
	for _, p := range summaryRatePatterns {
		m := p.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		switch {
		case p.fraction:
			a, _ := strconv.Atoi(m[1])
			b, _ := strconv.Atoi(m[2])
			if b > 0 && a <= b {
				return round1(float64(a) * 100 / float64(b)), types.IntPtr(a), true
			}
		case len(m) > 1:
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v <= 100 {
				return round1(v), nil, true
			}
		default:
			return 100, nil, true
		}
	}
	return 0, nil, false
}

// correctEvidenceLevel upgrades the evidence level when the study design
// or title names a stronger design, and turns multi-patient case reports
// into case series.
func correctEvidenceLevel(e *types.Extraction, title string) bool {
	from := e.EvidenceLevel
	t := strings.ToLower(title)
	if containsAny(t, caseTerms) {
		// "Case report and review of the literature" is not a review.
		t = ""
	}
	text := strings.ToLower(e.StudyDesign) + " " + t

	to := from
	switch {
	case containsAny(text, metaTerms):
		to = types.EvidenceMetaAnalysis
	case containsAny(text, rctTerms):
		to = types.EvidenceRCT
	default:
		if lvl := levelFromDesign(e.StudyDesign); lvl.Rank() > from.Rank() {
			to = lvl
		}
	}
	if to.Rank() < from.Rank() {
		to = from
	}
	if to == types.EvidenceCaseReport && e.Patients() >= 3 {
		to = types.EvidenceCaseSeries
	}
	if to == from {
		return false
	}
	e.EvidenceLevel = to
	e.Annotate(fmt.Sprintf("evidence level %s corrected to %s", from, to))
	return true
}

func levelFromDesign(design string) types.EvidenceLevel {
	d := strings.ToLower(design)
	switch {
	case d == "":
		return types.EvidenceUnknown
	case containsAny(d, []string{"case series", "case-series"}):
		return types.EvidenceCaseSeries
	case containsAny(d, []string{"case report", "case-report", "single case"}):
		return types.EvidenceCaseReport
	case containsAny(d, []string{"prospective", "open-label", "open label", "single-arm", "phase"}):
		return types.EvidenceProspective
	case containsAny(d, []string{"retrospective", "cohort", "registry", "chart review"}):
		return types.EvidenceRetrospective
	default:
		return types.EvidenceUnknown
	}
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
