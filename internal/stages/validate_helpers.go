package stages

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rodmena-limited/trust5/internal/langprofile"
)

// sourceExtensions are the file-token extensions scopeLintCommand and
// stripNonexistentFiles recognize as rewritable path arguments inside a
// lint command string.
var sourceExtensions = map[string]bool{
	".py": true, ".go": true, ".ts": true, ".js": true, ".tsx": true, ".jsx": true,
	".rs": true, ".java": true, ".rb": true, ".c": true, ".cpp": true, ".h": true,
	".hpp": true, ".cs": true, ".swift": true, ".kt": true, ".scala": true,
	".lua": true, ".zig": true,
}

var testDirTokens = map[string]bool{
	"tests": true, "test": true, "spec": true,
}

var lintFileLineRe = regexp.MustCompile(`^(\S+?):\d+`)
var fileNotFoundRe = regexp.MustCompile(`(?i)(?:FileNotFoundError|No\s+such\s+file|can't\s+open\s+file|Cannot\s+find\s+module).*?['"]([^'"]+?)['"]`)

func isTestFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "test_") || strings.Contains(lower, "_test.") ||
		strings.Contains(lower, ".test.") || strings.Contains(lower, "spec_") ||
		strings.Contains(lower, "_spec.")
}

func joinCmd(parts []string) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = shellQuote(p)
	}
	return strings.Join(out, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"$&|;<>`") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// normalizeOwnedFiles resolves extension-less module paths a planner may
// hand back (e.g. "taskqueue/worker") against the filesystem, preferring
// an exact match and falling back to the first file sharing the stem.
func normalizeOwnedFiles(raw []string, root string) []string {
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		if _, err := os.Stat(filepath.Join(root, f)); err == nil {
			out = append(out, f)
			continue
		}
		dir := filepath.Dir(f)
		stem := filepath.Base(f)
		matches, _ := filepath.Glob(filepath.Join(root, dir, stem+".*"))
		if len(matches) > 0 {
			rel, err := filepath.Rel(root, matches[0])
			if err == nil {
				out = append(out, rel)
				continue
			}
		}
		out = append(out, f)
	}
	return out
}

// scopeLintCommand rewrites a lint command to reference only the owned
// module's files, substituting owned basenames when every file token was
// dropped, and leaving directory-style invocations ("ruff check .")
// untouched.
func scopeLintCommand(cmd string, ownedFiles []string) string {
	if len(ownedFiles) == 0 {
		return cmd
	}
	owned := make(map[string]bool, len(ownedFiles))
	for _, f := range ownedFiles {
		owned[filepath.Base(f)] = true
	}
	segments := strings.Split(cmd, "&&")
	for i, seg := range segments {
		segments[i] = rewriteFileTokens(seg, func(tokens []string, fileIdx []int) []string {
			kept := make([]string, 0, len(tokens))
			removed := 0
			for i, t := range tokens {
				if !contains(fileIdx, i) {
					kept = append(kept, t)
					continue
				}
				if owned[filepath.Base(strings.Trim(t, `'"`))] {
					kept = append(kept, t)
				} else {
					removed++
				}
			}
			if removed > 0 && removed == len(fileIdx) {
				nonFile := make([]string, 0, len(tokens))
				for i, t := range tokens {
					if !contains(fileIdx, i) {
						nonFile = append(nonFile, t)
					}
				}
				names := make([]string, 0, len(owned))
				for b := range owned {
					names = append(names, b)
				}
				sort.Strings(names)
				return append(nonFile, names...)
			}
			return kept
		})
	}
	return strings.Join(segments, "&&")
}

// stripNonexistentFiles drops file-path tokens from a lint command that
// don't exist on disk, substituting actually-present source files
// (scoped to ownedFiles in a parallel pipeline) when every token in a
// segment was dropped.
func stripNonexistentFiles(cmd, root string, ownedFiles []string) string {
	segments := strings.Split(cmd, "&&")
	for i, seg := range segments {
		segments[i] = rewriteFileTokens(seg, func(tokens []string, fileIdx []int) []string {
			kept := make([]string, 0, len(tokens))
			removed := 0
			for i, t := range tokens {
				if !contains(fileIdx, i) {
					kept = append(kept, t)
					continue
				}
				clean := strings.Trim(t, `'"`)
				if _, err := os.Stat(filepath.Join(root, clean)); err == nil {
					kept = append(kept, t)
				} else {
					removed++
				}
			}
			if removed == 0 || removed != len(fileIdx) {
				return kept
			}
			var actual []string
			if len(ownedFiles) > 0 {
				for _, f := range ownedFiles {
					if _, err := os.Stat(filepath.Join(root, f)); err == nil && !isTestFile(f) {
						actual = append(actual, f)
					}
				}
			} else {
				actual = discoverSourceFiles(root)
			}
			if len(actual) == 0 {
				return tokens
			}
			nonFile := make([]string, 0, len(tokens))
			for i, t := range tokens {
				if !contains(fileIdx, i) {
					nonFile = append(nonFile, t)
				}
			}
			sort.Strings(actual)
			return append(nonFile, actual...)
		})
	}
	return strings.Join(segments, "&&")
}

// scopeTestCommand replaces a bare test-directory token ("tests/") with
// concrete test file paths so a parallel module runs only its own tests.
func scopeTestCommand(cmd string, testFiles []string) string {
	if len(testFiles) == 0 {
		return cmd
	}
	segments := strings.Split(cmd, "&&")
	for si, seg := range segments {
		tokens := strings.Fields(seg)
		if len(tokens) == 0 {
			continue
		}
		dirIdx := -1
		for i, t := range tokens {
			clean := strings.ToLower(strings.TrimRight(strings.Trim(t, `'"`), "/"))
			if testDirTokens[clean] {
				dirIdx = i
				break
			}
		}
		if dirIdx < 0 {
			continue
		}
		newTokens := make([]string, 0, len(tokens)+len(testFiles))
		for i, t := range tokens {
			if i == dirIdx {
				newTokens = append(newTokens, testFiles...)
				continue
			}
			if i > dirIdx && strings.TrimRight(strings.Trim(t, `'"`), "/") == strings.TrimRight(strings.Trim(tokens[dirIdx], `'"`), "/") {
				continue
			}
			newTokens = append(newTokens, t)
		}
		segments[si] = strings.Join(newTokens, " ")
	}
	return strings.Join(segments, "&&")
}

// rewriteFileTokens splits seg into whitespace tokens, identifies which
// look like source-file paths by extension, and hands both to fn for
// rewriting; segments with no file tokens pass through unchanged.
func rewriteFileTokens(seg string, fn func(tokens []string, fileIdx []int) []string) string {
	tokens := strings.Fields(seg)
	if len(tokens) == 0 {
		return seg
	}
	var fileIdx []int
	for i, t := range tokens {
		clean := strings.Trim(t, `'"`)
		if sourceExtensions[strings.ToLower(filepath.Ext(clean))] {
			fileIdx = append(fileIdx, i)
		}
	}
	if len(fileIdx) == 0 {
		return seg
	}
	return strings.Join(fn(tokens, fileIdx), " ")
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

var defaultSkipDirs = map[string]bool{
	".trust5": true, ".git": true, "node_modules": true, "vendor": true,
	"__pycache__": true, ".venv": true, "venv": true, "target": true,
	"dist": true, "build": true,
}

func discoverSourceFiles(root string) []string {
	var out []string
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if info.IsDir() {
			base := filepath.Base(path)
			if defaultSkipDirs[base] || (strings.HasPrefix(base, ".") && path != root) {
				return filepath.SkipDir
			}
			return nil
		}
		if sourceExtensions[strings.ToLower(filepath.Ext(path))] && !isTestFile(filepath.Base(path)) {
			out = append(out, rel)
		}
		return nil
	})
	return out
}

func discoverTestFiles(root string, extensions []string) []string {
	extSet := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		extSet[e] = true
	}
	var out []string
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			base := filepath.Base(path)
			if defaultSkipDirs[base] || (strings.HasPrefix(base, ".") && path != root) {
				return filepath.SkipDir
			}
			return nil
		}
		name := info.Name()
		matched := len(extSet) == 0
		for e := range extSet {
			if strings.HasSuffix(name, e) {
				matched = true
				break
			}
		}
		if matched && isTestFile(name) {
			rel, _ := filepath.Rel(root, path)
			out = append(out, rel)
		}
		return nil
	})
	sort.Strings(out)
	return out
}

// deriveModuleTestFiles filters discovered test files to those whose
// stem (after stripping a test_/_test wrapper) mentions one of ownedFiles'
// basenames, scoping a parallel module's test run to its own tests.
func deriveModuleTestFiles(allTestFiles, ownedFiles []string) []string {
	baseNames := make(map[string]bool)
	for _, f := range ownedFiles {
		stem := strings.ToLower(stemOf(f))
		if stem != "" && stem != "__init__" {
			baseNames[stem] = true
		}
	}
	if len(baseNames) == 0 {
		return nil
	}
	var matched []string
	for _, tf := range allTestFiles {
		core := strings.ToLower(stemOf(tf))
		core = strings.TrimPrefix(core, "test_")
		core = strings.TrimSuffix(core, "_test")
		for bn := range baseNames {
			if strings.Contains(core, bn) {
				matched = append(matched, tf)
				break
			}
		}
	}
	return matched
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// filterTestFileLint removes lint-output lines referencing test files or
// (in a parallel pipeline) files outside ownedFiles — errors the repair
// agent has no ability to fix because those files are denied to it.
func filterTestFileLint(raw string, ownedFiles []string) string {
	var owned map[string]bool
	if len(ownedFiles) > 0 {
		owned = make(map[string]bool, len(ownedFiles)*2)
		for _, f := range ownedFiles {
			owned[f] = true
			if strings.HasPrefix(f, "./") {
				owned[f[2:]] = true
			} else {
				owned["./"+f] = true
			}
		}
	}

	var kept []string
	dropped := 0
	for _, line := range strings.Split(raw, "\n") {
		if m := lintFileLineRe.FindStringSubmatch(line); m != nil {
			path := m[1]
			if isTestFile(path) {
				dropped++
				continue
			}
			if owned != nil {
				norm := strings.TrimPrefix(path, "./")
				if !owned[norm] && !owned["./"+norm] && !owned[path] {
					dropped++
					continue
				}
			}
		} else if m := fileNotFoundRe.FindStringSubmatch(line); m != nil {
			missing := m[1]
			if owned == nil {
				dropped++
				continue
			}
			norm := strings.TrimPrefix(missing, "./")
			base := filepath.Base(missing)
			ownedBase := false
			for f := range owned {
				if filepath.Base(f) == base {
					ownedBase = true
					break
				}
			}
			if !owned[norm] && !owned["./"+norm] && !owned[missing] && !ownedBase {
				dropped++
				continue
			}
		}
		kept = append(kept, line)
	}

	if dropped == 0 {
		return raw
	}
	result := strings.TrimSpace(strings.Join(kept, "\n"))
	if !lintFileLineRe.MatchString(result) {
		return ""
	}
	return result
}

var pytestPassRe = regexp.MustCompile(`(\d+)\s+passed`)
var pytestFailRe = regexp.MustCompile(`(\d+)\s+failed`)
var goOkRe = regexp.MustCompile(`ok\s+\S+\s+[\d.]+s`)
var jestPassRe = regexp.MustCompile(`Tests:\s+.*?(\d+)\s+passed`)
var genericPassRe = regexp.MustCompile(`(?i)(\d+)\s+tests?\s+passed`)

func countTests(output string) int {
	total := 0
	for _, line := range strings.Split(output, "\n") {
		if m := pytestPassRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			total += n
			if mf := pytestFailRe.FindStringSubmatch(line); mf != nil {
				nf, _ := strconv.Atoi(mf[1])
				total += nf
			}
			continue
		}
		if goOkRe.MatchString(line) {
			total++
			continue
		}
		if m := jestPassRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			total += n
			continue
		}
		if m := genericPassRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			total += n
		}
	}
	return total
}

// buildTestEnv adds the profile's first existing source root to
// PathEnvVar so a non-flat layout (e.g. Python's src/) is importable
// without an install step. Returns nil when no adjustment is needed.
func buildTestEnv(root string, profile *langprofile.Profile) map[string]string {
	if profile == nil || len(profile.SourceRoots) == 0 || profile.PathEnvVar == "" {
		return nil
	}
	for _, r := range profile.SourceRoots {
		dir := filepath.Join(root, r)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return map[string]string{profile.PathEnvVar: dir}
		}
	}
	return nil
}
