package stages

import "testing"

func TestTruncateMiddleStr(t *testing.T) {
	short := "a short failure message"
	if got := truncateMiddleStr(short, 4000); got != short {
		t.Errorf("expected short input unchanged, got %q", got)
	}

	long := make([]byte, 10_000)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateMiddleStr(string(long), 4000)
	if len(got) >= len(long) {
		t.Errorf("expected truncation to shrink the string, got len %d", len(got))
	}
	if got[:1] != "x" || got[len(got)-1:] != "x" {
		t.Errorf("expected head and tail to be preserved, got prefix/suffix %q/%q", got[:10], got[len(got)-10:])
	}
}

func TestDefaultTargetFor(t *testing.T) {
	if got := defaultTargetFor(jumpQualityRef); got != "quality" {
		t.Errorf("defaultTargetFor(jumpQualityRef) = %q, want %q", got, "quality")
	}
	if got := defaultTargetFor(jumpValidateRef); got != "validate" {
		t.Errorf("defaultTargetFor(jumpValidateRef) = %q, want %q", got, "validate")
	}
}
