package stages

import "testing"

func TestParsePlanFrontmatter(t *testing.T) {
	content := "---\n" +
		"setup_commands:\n  - npm install\nquality_threshold: 0.85\n" +
		"---\n" +
		"## Plan\n\n1. Add the widget module.\n"

	cfg, body := parsePlanFrontmatter(content)

	cmds, ok := cfg["setup_commands"].([]any)
	if !ok || len(cmds) != 1 || cmds[0] != "npm install" {
		t.Errorf("setup_commands = %#v, want [\"npm install\"]", cfg["setup_commands"])
	}
	threshold, ok := cfg["quality_threshold"].(float64)
	if !ok || threshold != 0.85 {
		t.Errorf("quality_threshold = %#v, want 0.85", cfg["quality_threshold"])
	}
	if body != "## Plan\n\n1. Add the widget module.\n" {
		t.Errorf("body = %q", body)
	}
}

func TestParsePlanFrontmatterMissing(t *testing.T) {
	content := "## Plan\n\nNo frontmatter here.\n"
	cfg, body := parsePlanFrontmatter(content)
	if len(cfg) != 0 {
		t.Errorf("expected empty config, got %#v", cfg)
	}
	if body != content {
		t.Errorf("expected body unchanged, got %q", body)
	}
}

func TestParsePlanFrontmatterMalformedYAML(t *testing.T) {
	content := "---\n[unterminated\n---\nbody text\n"
	cfg, body := parsePlanFrontmatter(content)
	if len(cfg) != 0 {
		t.Errorf("expected empty config on malformed yaml, got %#v", cfg)
	}
	if body != content {
		t.Errorf("expected original content returned unchanged on parse failure, got %q", body)
	}
}
