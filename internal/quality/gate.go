package quality

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rodmena-limited/trust5/internal/config"
	"github.com/rodmena-limited/trust5/internal/langprofile"
	"github.com/rodmena-limited/trust5/internal/tools/exec"
)

// Gate orchestrates all pillar validators for one project and produces a
// weighted QualityReport, invoked by QualityTask.
type Gate struct {
	Config config.QualityConfig
	Profile *langprofile.Profile
	Root    string
	Runner  *exec.Manager
	Logger  *slog.Logger
}

// NewGate constructs a Gate. A nil profile is valid — pillars that need a
// detected toolchain (tested, readable, secured) degrade to hints rather
// than failing outright, matching each validator's tool-missing handling.
func NewGate(cfg config.QualityConfig, profile *langprofile.Profile, root string, runner *exec.Manager, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{Config: cfg, Profile: profile, Root: root, Runner: runner, Logger: logger}
}

// Validate runs every pillar validator concurrently and aggregates the
// results into a QualityReport. A validator panic or internal error is
// caught and downgraded to a failed PillarResult rather than aborting the
// whole gate — one broken scanner should not hide the other five
// pillars' findings.
func (g *Gate) Validate(ctx context.Context) *QualityReport {
	type named struct {
		pillar string
		fn     func(context.Context) PillarResult
	}
	validators := []named{
		{PillarTested, g.validateTested},
		{PillarReadable, g.validateReadable},
		{PillarUnderstandable, g.validateUnderstandable},
		{PillarSecured, g.validateSecured},
		{PillarTrackable, g.validateTrackable},
		{PillarCompleteness, g.validateCompleteness},
	}

	results := make(map[string]PillarResult, len(validators))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, v := range validators {
		wg.Add(1)
		go func(v named) {
			defer wg.Done()
			result := g.runValidator(ctx, v.pillar, v.fn)
			mu.Lock()
			results[v.pillar] = result
			mu.Unlock()
			g.Logger.Debug("pillar validated", "pillar", v.pillar, "score", result.Score, "passed", result.Passed, "issues", len(result.Issues))
		}(v)
	}
	wg.Wait()

	return g.buildReport(results)
}

func (g *Gate) runValidator(ctx context.Context, pillar string, fn func(context.Context) PillarResult) (result PillarResult) {
	defer func() {
		if r := recover(); r != nil {
			g.Logger.Warn("pillar validator panicked", "pillar", pillar, "recover", r)
			result = PillarResult{
				Pillar: pillar,
				Passed: false,
				Score:  0,
				Issues: []Issue{{Severity: SeverityError, Message: "validator crashed", Rule: "validator-crash"}},
			}
		}
	}()
	return fn(ctx)
}

func (g *Gate) buildReport(results map[string]PillarResult) *QualityReport {
	weights := g.Config.Weights
	totalScore, totalErrors, totalWarnings := 0.0, 0, 0
	coverage := -1.0

	for _, pillar := range AllPillars {
		pr, ok := results[pillar]
		if !ok {
			pr = PillarResult{Pillar: pillar}
		}
		totalScore += pr.Score * weights[pillar]
		for _, issue := range pr.Issues {
			switch issue.Severity {
			case SeverityError:
				totalErrors++
			case SeverityWarning:
				totalWarnings++
			}
			if issue.Rule == "coverage-measured" {
				if v := coveragePercent(issue.Message); v >= 0 {
					coverage = v
				}
			}
		}
	}

	completenessFailed := false
	if completeness, ok := results[PillarCompleteness]; ok {
		completenessFailed = !completeness.Passed
	}

	score := round3(totalScore)
	return &QualityReport{
		Passed:          score >= g.Config.PassScore && totalErrors == 0 && !completenessFailed,
		Score:           score,
		Pillars:         results,
		TotalErrors:     totalErrors,
		TotalWarnings:   totalWarnings,
		CoveragePercent: coverage,
		Timestamp:       time.Now(),
	}
}
