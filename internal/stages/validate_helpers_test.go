package stages

import "testing"

func TestIsTestFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"test_widget.py", true},
		{"widget_test.go", true},
		{"widget.test.ts", true},
		{"spec_widget.rb", true},
		{"widget_spec.rb", true},
		{"widget.py", false},
		{"main.go", false},
	}
	for _, tc := range tests {
		if got := isTestFile(tc.name); got != tc.want {
			t.Errorf("isTestFile(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"plainfile.go", "plainfile.go"},
		{"has space.go", "'has space.go'"},
		{"o'clock.go", `'o'\''clock.go'`},
	}
	for _, tc := range tests {
		if got := shellQuote(tc.in); got != tc.want {
			t.Errorf("shellQuote(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestJoinCmd(t *testing.T) {
	got := joinCmd([]string{"pytest", "-k", "has space"})
	want := "pytest -k 'has space'"
	if got != want {
		t.Errorf("joinCmd(...) = %q, want %q", got, want)
	}
}

func TestStemOf(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"src/widget.go", "widget"},
		{"widget.test.ts", "widget.test"},
		{"noext", "noext"},
	}
	for _, tc := range tests {
		if got := stemOf(tc.path); got != tc.want {
			t.Errorf("stemOf(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestCountTests(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   int
	}{
		{"pytest passed only", "5 passed in 1.23s", 5},
		{"pytest passed and failed", "3 passed, 2 failed in 0.50s", 5},
		{"go ok line", "ok  	github.com/example/pkg	0.123s", 1},
		{"jest summary", "Tests:       12 passed, 12 total", 12},
		{"generic summary", "14 tests passed", 14},
		{"no match", "no recognizable summary here", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := countTests(tc.output); got != tc.want {
				t.Errorf("countTests(%q) = %d, want %d", tc.output, got, tc.want)
			}
		})
	}
}
