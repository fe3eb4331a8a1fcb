package stages

import "time"

// Engine constants governing repair/reimplementation budgets and
// subprocess timeouts, mirroring agentloop's own per-package constants
// (constants are duplicated per consuming package rather than shared, to
// avoid forcing an import-cycle-driven dependency between stages and
// agentloop for four integer values).
const (
	// MaxRepairAttempts bounds how many times ValidateTask jumps to
	// RepairTask for the same module before forcing a reimplementation.
	MaxRepairAttempts = 5

	// MaxReimplementations bounds how many times a module may be sent
	// back to ImplementTask from scratch before ValidateTask gives up and
	// returns failed_continue.
	MaxReimplementations = 3

	// ConsecutiveFailureLimit escalates straight to reimplementation when
	// the same failure summary repeats this many times in a row, instead
	// of exhausting the full repair-attempt budget on a repair the agent
	// is clearly not making progress on.
	ConsecutiveFailureLimit = 3

	// SubprocessTimeout bounds every test/lint/syntax-check/security
	// subprocess a stage task runs.
	SubprocessTimeout = 120 * time.Second
)

// Context keys stage tasks read/write on a Stage's Context, beyond the
// runtime's own propagation allow-list (internal/workflow/context_keys.go).
const (
	ctxModuleSpec       = "module_spec"
	ctxPlanConfig       = "plan_config"
	ctxTestFiles        = "test_files"
	ctxOwnedFiles       = "owned_files"
	ctxRepairAttempt    = "repair_attempt"
	ctxReimplementCount = "reimplementation_count"
	ctxQualityAttempt   = "quality_attempt"
	ctxFailureType      = "failure_type"
	ctxFailureSummary   = "failure_summary"
	ctxFailureHistory   = "failure_history"
	ctxLastQualityScore = "last_quality_score"
	ctxDevDepsInstalled = "dev_deps_installed"
	ctxLanguageProfile  = "language_profile"
	ctxQualityReport    = "quality_report"
	ctxSpecText         = "spec_text"
	ctxAcceptanceCriteria = "acceptance_criteria"

	jumpRepairRef     = "jump_repair_ref"
	jumpValidateRef   = "jump_validate_ref"
	jumpImplementRef  = "jump_implement_ref"
	jumpQualityRef    = "jump_quality_ref"
	jumpReviewRef     = "jump_review_ref"
)
