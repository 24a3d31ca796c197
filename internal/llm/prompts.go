// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

const systemPrompt = "You are a clinical evidence analyst reviewing published case reports and studies for drug repurposing. You report only facts stated in the text, use null for anything not stated, and return strict JSON only."

// maxDocumentChars bounds the document text placed in one prompt.
const maxDocumentChars = 60000

var classifyTmpl = template.Must(template.New("classify").Parse(`Decide for each paper whether it reports clinical use of {{.Drug}} in human patients for a condition OTHER than its approved indications.
{{if .Exclusions}}Approved indications (exclude papers only about these): {{.Exclusions}}
{{end}}Include case reports, case series, cohort studies, and trials. Exclude reviews without patient data, in-vitro or animal-only studies, and papers where {{.Drug}} is not given to patients.

Respond with {"decisions": [{"index": <int>, "include": <bool>, "reason": "<short reason>", "disease": "<condition studied or empty>", "patients": <int or null>, "score": <0.0-1.0 relevance>}]} with one element per paper.

{{range $i, $it := .Items}}[{{$i}}] {{$it.Title}}
{{$it.Abstract}}

{{end}}`))

var extractTmpls = map[Schema]*template.Template{
	SchemaSinglePass: template.Must(template.New("single").Parse(`Extract the clinical evidence for {{.Drug}}{{if .Mechanism}} ({{.Mechanism}}){{end}} from this paper.
{{if .Exclusions}}Approved indications: {{.Exclusions}}. Set is_off_label false when the disease is one of these.
{{end}}
Return one JSON object:
{"disease": str, "disease_subtype": str, "disease_category": str, "is_off_label": bool, "is_relevant": bool,
 "study_design": str, "evidence_level": "case_report|case_series|retrospective|prospective|rct|meta_analysis|unknown",
 "population": {"n_patients": int, "description": str, "severity": str, "prior_treatment_lines": int, "refractory": bool},
 "treatment": {"dose": str, "duration": str, "duration_weeks": number},
 "efficacy": {"response_rate_text": str, "response_rate_pct": number, "responders_n": int, "responders_pct": number,
   "primary_endpoint": str, "response_criteria": str, "summary": str,
   "metric_type": "response_rate|remission|score_change|drug_survival|other", "metric_confidence": number,
   "biomarkers": [str], "biomarker_change": bool},
 "safety": {"adverse_events": [str], "sae_count": int, "sae_pct": number, "summary": str},
 "follow_up": str, "follow_up_weeks": number, "key_findings": str}

Title: {{.Title}}
{{.Document}}`)),

	SchemaSections: template.Must(template.New("sections").Parse(`Read this full-text paper about {{.Drug}}. Copy verbatim the passages that contain patient counts, outcomes, response rates, or adverse events, and report the study facts.
{{if .Exclusions}}Approved indications: {{.Exclusions}}.
{{end}}
Return one JSON object:
{"data_sections": [str], "disease": str, "disease_subtype": str, "disease_category": str, "is_off_label": bool, "is_relevant": bool,
 "study_design": str, "evidence_level": "case_report|case_series|retrospective|prospective|rct|meta_analysis|unknown",
 "population": {"n_patients": int, "description": str, "severity": str, "prior_treatment_lines": int, "refractory": bool},
 "treatment": {"dose": str, "duration": str, "duration_weeks": number},
 "follow_up": str, "follow_up_weeks": number, "key_findings": str}

Title: {{.Title}}
{{.Document}}`)),

	SchemaEfficacy: template.Must(template.New("efficacy").Parse(`From these passages, extract the efficacy of {{.Drug}}.

Return one JSON object:
{"efficacy": {"response_rate_text": str, "response_rate_pct": number, "responders_n": int, "responders_pct": number,
 "primary_endpoint": str, "response_criteria": str, "summary": str,
 "metric_type": "response_rate|remission|score_change|drug_survival|other", "metric_confidence": number,
 "biomarkers": [str], "biomarker_change": bool}}

Title: {{.Title}}
{{.Document}}`)),

	SchemaSafety: template.Must(template.New("safety").Parse(`From these passages, extract the safety profile of {{.Drug}}.

Return one JSON object:
{"safety": {"adverse_events": [str], "sae_count": int, "sae_pct": number, "summary": str}}

Title: {{.Title}}
{{.Document}}`)),

	SchemaDisease: template.Must(template.New("disease").Parse(`Standardize this disease name to its canonical medical name, and name the broader parent disease used for market grouping. Use the same name for parent when there is no broader grouping.

Return one JSON object:
{"canonical": str, "parent": str, "category": str}

Disease: {{.Document}}`)),
}

type promptData struct {
	Drug       string
	Mechanism  string
	Exclusions string
	Title      string
	Document   string
	Items      []ClassifyItem
}

func renderClassify(req ClassifyRequest) (string, error) {
	return render(classifyTmpl, promptData{
		Drug:       req.Drug.Name,
		Exclusions: strings.Join(req.Exclusions, "; "),
		Items:      req.Items,
	})
}

func renderExtract(req ExtractRequest) (string, error) {
	tmpl, ok := extractTmpls[req.Schema]
	if !ok {
		return "", fmt.Errorf("unknown schema %q", req.Schema)
	}
	doc := req.Document
	if len(doc) > maxDocumentChars {
		doc = doc[:maxDocumentChars]
	}
	return render(tmpl, promptData{
		Drug:       req.Drug.Name,
		Mechanism:  req.Drug.Mechanism,
		Exclusions: strings.Join(req.Drug.ApprovedIndications, "; "),
		Title:      req.Title,
		Document:   doc,
	})
}

func render(tmpl *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
