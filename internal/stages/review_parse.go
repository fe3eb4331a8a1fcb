package stages

import (
	"encoding/json"
	"regexp"
)

// findingsBlockRe extracts the JSON payload ReviewTask's prompt asks the
// agent to wrap in an HTML comment, so it survives being embedded in an
// otherwise free-form final message.
var findingsBlockRe = regexp.MustCompile(`(?s)<!--\s*REVIEW_FINDINGS\s+JSON\s*\n(.*?)\n\s*-->`)

type rawReviewPayload struct {
	Findings []struct {
		Severity    string `json:"severity"`
		Category    string `json:"category"`
		File        string `json:"file"`
		Line        int    `json:"line"`
		Description string `json:"description"`
	} `json:"findings"`
	SummaryScore  float64 `json:"summary_score"`
	TotalErrors   int     `json:"total_errors"`
	TotalWarnings int     `json:"total_warnings"`
	TotalInfo     int     `json:"total_info"`
}

// parseReviewFindings extracts the structured REVIEW_FINDINGS JSON block
// from the reviewer agent's final message. A missing or malformed block
// is treated as advisory rather than a hard failure — the reviewer still
// did useful work even if it forgot the exact output contract.
func parseReviewFindings(rawOutput string) *ReviewReport {
	match := findingsBlockRe.FindStringSubmatch(rawOutput)
	if match == nil {
		return &ReviewReport{
			Findings:     []ReviewFinding{{Severity: "info", Category: "design-smell", Description: "Review completed but produced no structured findings."}},
			SummaryScore: 0.7,
			TotalInfo:    1,
		}
	}

	var payload rawReviewPayload
	if err := json.Unmarshal([]byte(match[1]), &payload); err != nil {
		return &ReviewReport{
			Findings:     []ReviewFinding{{Severity: "info", Category: "design-smell", Description: "Review produced malformed JSON — treating as advisory."}},
			SummaryScore: 0.7,
			TotalInfo:    1,
		}
	}

	findings := make([]ReviewFinding, 0, len(payload.Findings))
	for _, f := range payload.Findings {
		severity := f.Severity
		if severity == "" {
			severity = "info"
		}
		category := f.Category
		if category == "" {
			category = "design-smell"
		}
		findings = append(findings, ReviewFinding{
			Severity: severity, Category: category, File: f.File, Line: f.Line, Description: f.Description,
		})
	}

	return &ReviewReport{
		Findings:      findings,
		SummaryScore:  payload.SummaryScore,
		TotalErrors:   payload.TotalErrors,
		TotalWarnings: payload.TotalWarnings,
		TotalInfo:     payload.TotalInfo,
	}
}
