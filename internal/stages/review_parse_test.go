package stages

import "testing"

func TestParseReviewFindingsWellFormed(t *testing.T) {
	raw := "Some reviewer commentary.\n\n<!-- REVIEW_FINDINGS JSON\n" +
		`{"findings":[{"severity":"error","category":"security","file":"auth.go","line":42,"description":"missing check"}],` +
		`"summary_score":0.6,"total_errors":1,"total_warnings":0,"total_info":0}` +
		"\n-->\n"

	report := parseReviewFindings(raw)
	if len(report.Findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(report.Findings))
	}
	f := report.Findings[0]
	if f.Severity != "error" || f.Category != "security" || f.File != "auth.go" || f.Line != 42 {
		t.Errorf("unexpected finding: %+v", f)
	}
	if report.SummaryScore != 0.6 || report.TotalErrors != 1 {
		t.Errorf("unexpected report totals: %+v", report)
	}
}

func TestParseReviewFindingsMissingBlock(t *testing.T) {
	report := parseReviewFindings("The code looks fine, nothing to report.")
	if len(report.Findings) != 1 || report.Findings[0].Severity != "info" {
		t.Errorf("expected a single advisory info finding, got %+v", report.Findings)
	}
	if report.TotalInfo != 1 {
		t.Errorf("expected total_info=1, got %d", report.TotalInfo)
	}
}

func TestParseReviewFindingsMalformedJSON(t *testing.T) {
	raw := "<!-- REVIEW_FINDINGS JSON\n{not valid json\n-->"
	report := parseReviewFindings(raw)
	if len(report.Findings) != 1 || report.Findings[0].Severity != "info" {
		t.Errorf("expected advisory fallback for malformed JSON, got %+v", report.Findings)
	}
}

func TestParseReviewFindingsDefaultsMissingFields(t *testing.T) {
	raw := "<!-- REVIEW_FINDINGS JSON\n" +
		`{"findings":[{"description":"vague finding"}],"summary_score":0.9}` +
		"\n-->"
	report := parseReviewFindings(raw)
	if len(report.Findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(report.Findings))
	}
	f := report.Findings[0]
	if f.Severity != "info" || f.Category != "design-smell" {
		t.Errorf("expected defaulted severity/category, got %+v", f)
	}
}
