package quality

// Quality-gate-only per-language metadata that LanguageProfile
// deliberately omits (SPEC_FULL.md's DATA MODEL scopes LanguageProfile to
// the fields ValidateTask/SetupTask need; coverage and security scanning
// are gate-only concerns with their own sensible per-language defaults).

var extensionsByLanguage = map[string][]string{
	"go":     {".go"},
	"python": {".py"},
	"node":   {".js", ".jsx", ".ts", ".tsx"},
	"rust":   {".rs"},
}

var defaultSkipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"dist": true, "build": true, "target": true,
	".venv": true, "venv": true, "__pycache__": true,
}

var coverageCommandByLanguage = map[string]string{
	"go":     "go test -cover ./...",
	"python": "pytest --cov --cov-report=term-missing -q",
	"node":   "npx jest --coverage",
	"rust":   "cargo tarpaulin",
}

var securityCommandByLanguage = map[string]string{
	"go":     "gosec -fmt=json ./...",
	"python": "bandit -r . -f json",
	"node":   "npm audit --json",
	"rust":   "cargo audit --json",
}

func (g *Gate) extensions() []string {
	if g.Profile == nil {
		return nil
	}
	return extensionsByLanguage[g.Profile.Name]
}

func (g *Gate) skipDirs() map[string]bool {
	return defaultSkipDirs
}

func (g *Gate) coverageCommand() string {
	if g.Profile == nil {
		return ""
	}
	return coverageCommandByLanguage[g.Profile.Name]
}

func (g *Gate) securityCommand() string {
	if g.Profile == nil {
		return ""
	}
	return securityCommandByLanguage[g.Profile.Name]
}
