package workflow

// DefaultMaxJumps bounds how many jump_to transitions a workflow may take
// before the runtime forces a terminal transition instead — a circuit
// breaker for the DAG itself.
const DefaultMaxJumps = 50

// PropagatedContextKeys is the documented allow-list the jumper copies
// from a source stage's context into a jump_to's override dict before any
// destination-specific values are written. The order here doesn't matter
// for correctness, only that every key a downstream Task relies on is
// listed.
var PropagatedContextKeys = []string{
	"jump_repair_ref",
	"jump_validate_ref",
	"jump_implement_ref",
	"jump_quality_ref",
	"jump_review_ref",
	"test_files",
	"owned_files",
	"module_name",
	"plan_config",
	"repair_attempt",
	"_max_jumps",
	"_jump_count",
}

// PropagateContext copies non-nil values for keys from source into target.
// Callers that need to override a propagated value (e.g. an incremented
// repair_attempt) MUST write it into target AFTER calling PropagateContext
// — writing before it would be silently clobbered by the stale source
// value. This ordering is the one invariant that, if violated, turns a
// bounded repair loop into an infinite one.
func PropagateContext(source, target Context, keys []string) {
	if keys == nil {
		keys = PropagatedContextKeys
	}
	for _, k := range keys {
		if v, ok := source[k]; ok && v != nil {
			target[k] = v
		}
	}
}

// IncrementJumpCount increments and returns the jump counter stored under
// "_jump_count" in context. Must be called before every jump_to, on the
// override dict that will become the target stage's context.
func IncrementJumpCount(context Context) int {
	count := 0
	if v, ok := context["_jump_count"].(int); ok {
		count = v
	}
	count++
	context["_jump_count"] = count
	return count
}

// MaxJumps reads "_max_jumps" from context, defaulting to DefaultMaxJumps
// when absent or not a positive int.
func MaxJumps(context Context) int {
	if v, ok := context["_max_jumps"].(int); ok && v > 0 {
		return v
	}
	return DefaultMaxJumps
}
