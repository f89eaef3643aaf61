package scan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codedebt/guardian/internal/types"
)

const (
	maxFunctionLines = 50
	maxParams        = 5
	duplicateWindow  = 4 // consecutive significant lines that must repeat
)

var credentialRe = regexp.MustCompile(`(?i)^\s*(\w*(?:password|passwd|api_key|apikey|secret|token)\w*)\s*=\s*["'][^"']+["']`)

func detectBareExcept(lines []string) []finding {
	var out []finding
	for i, line := range lines {
		if strings.TrimSpace(line) == "except:" {
			out = append(out, finding{
				line:     i + 1,
				pattern:  PatternBareExcept,
				severity: types.SeverityMedium,
				category: types.CategoryMaintainability,
				message:  "bare except clause swallows all errors, including KeyboardInterrupt",
				snippet:  line,
			})
		}
	}
	return out
}

func detectHardcodedCredentials(lines []string) []finding {
	var out []finding
	for i, line := range lines {
		if strings.Contains(line, "os.environ") || strings.Contains(line, "getenv") {
			continue
		}
		if m := credentialRe.FindStringSubmatch(line); m != nil {
			out = append(out, finding{
				line:     i + 1,
				pattern:  PatternHardcodedCredential,
				severity: types.SeverityCritical,
				category: types.CategorySecurity,
				message:  fmt.Sprintf("hardcoded credential assigned to %s", m[1]),
				snippet:  line,
			})
		}
	}
	return out
}

// detectMissingDocstrings flags top-level functions and classes whose body
// does not start with a string literal.
func detectMissingDocstrings(lines []string) []finding {
	var out []finding
	for i, line := range lines {
		if !isTopLevelDecl(line) {
			continue
		}
		body := firstBodyLine(lines, i)
		if body != "" && !strings.HasPrefix(body, `"""`) && !strings.HasPrefix(body, "'''") &&
			!strings.HasPrefix(body, `"`) && !strings.HasPrefix(body, "'") {
			out = append(out, finding{
				line:     i + 1,
				pattern:  PatternMissingDocstring,
				severity: types.SeverityLow,
				category: types.CategoryMaintainability,
				message:  "public declaration has no docstring",
				snippet:  line,
			})
		}
	}
	return out
}

// detectLongFunctions flags top-level functions longer than maxFunctionLines.
func detectLongFunctions(lines []string) []finding {
	var out []finding
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if indentWidth(line) != 0 || (!strings.HasPrefix(trimmed, "def ") && !strings.HasPrefix(trimmed, "async def ")) {
			continue
		}
		length := functionLength(lines, i)
		if length > maxFunctionLines {
			out = append(out, finding{
				line:     i + 1,
				pattern:  PatternLongFunction,
				severity: types.SeverityMedium,
				category: types.CategoryMaintainability,
				message:  fmt.Sprintf("function body spans %d lines (limit %d)", length, maxFunctionLines),
				snippet:  line,
			})
		}
	}
	return out
}

func detectMissingTypeHints(lines []string) []finding {
	var out []finding
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if indentWidth(line) != 0 || (!strings.HasPrefix(trimmed, "def ") && !strings.HasPrefix(trimmed, "async def ")) {
			continue
		}
		if !strings.HasSuffix(trimmed, "):") || strings.Contains(trimmed, "->") {
			continue
		}
		out = append(out, finding{
			line:     i + 1,
			pattern:  PatternMissingTypeHints,
			severity: types.SeverityLow,
			category: types.CategoryCodeSmell,
			message:  "function signature has no return annotation",
			snippet:  line,
		})
	}
	return out
}

func detectTooManyParams(lines []string) []finding {
	var out []finding
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "def ") && !strings.HasPrefix(trimmed, "async def ") {
			continue
		}
		open := strings.Index(trimmed, "(")
		end := strings.LastIndex(trimmed, ")")
		if open < 0 || end <= open {
			continue
		}
		params := splitParams(trimmed[open+1 : end])
		if len(params) > maxParams {
			out = append(out, finding{
				line:     i + 1,
				pattern:  PatternTooManyParams,
				severity: types.SeverityMedium,
				category: types.CategoryCodeSmell,
				message:  fmt.Sprintf("function takes %d parameters (limit %d)", len(params), maxParams),
				snippet:  line,
			})
		}
	}
	return out
}

// detectDuplicateBlocks flags repeated runs of duplicateWindow significant
// lines within one file. Only the later occurrence is reported.
func detectDuplicateBlocks(lines []string) []finding {
	type block struct{ firstLine int }
	windows := make(map[string]block)
	var out []finding

	significant := make([]int, 0, len(lines)) // indices of non-blank, non-comment lines
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		significant = append(significant, i)
	}

	flagged := make(map[int]struct{})
	for w := 0; w+duplicateWindow <= len(significant); w++ {
		var parts []string
		for _, idx := range significant[w : w+duplicateWindow] {
			parts = append(parts, strings.TrimSpace(lines[idx]))
		}
		key := strings.Join(parts, "\n")
		start := significant[w]

		if prev, ok := windows[key]; ok {
			// Overlapping repeats collapse onto one finding.
			if _, done := flagged[start]; !done && start > prev.firstLine+duplicateWindow-1 {
				out = append(out, finding{
					line:     start + 1,
					pattern:  PatternDuplicateCode,
					severity: types.SeverityMedium,
					category: types.CategoryMaintainability,
					message:  fmt.Sprintf("block duplicates lines starting at %d", prev.firstLine+1),
					snippet:  lines[start],
				})
				for k := start; k < start+duplicateWindow; k++ {
					flagged[k] = struct{}{}
				}
			}
			continue
		}
		windows[key] = block{firstLine: start}
	}
	return out
}

func isTopLevelDecl(line string) bool {
	if indentWidth(line) != 0 {
		return false
	}
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "def ") || strings.HasPrefix(t, "async def ") || strings.HasPrefix(t, "class ")
}

func indentWidth(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

// firstBodyLine returns the first non-blank line after a declaration,
// trimmed, or "" if the body never materializes.
func firstBodyLine(lines []string, decl int) string {
	for i := decl + 1; i < len(lines); i++ {
		t := strings.TrimSpace(lines[i])
		if t == "" {
			continue
		}
		if indentWidth(lines[i]) == 0 {
			return "" // declaration had no indented body
		}
		return t
	}
	return ""
}

// functionLength counts lines from the def to the last line of its body.
func functionLength(lines []string, decl int) int {
	end := decl
	for i := decl + 1; i < len(lines); i++ {
		t := strings.TrimSpace(lines[i])
		if t == "" {
			continue
		}
		if indentWidth(lines[i]) == 0 {
			break
		}
		end = i
	}
	return end - decl + 1
}

func splitParams(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	depth := 0
	var params []string
	var cur strings.Builder
	for _, r := range s {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				params = append(params, strings.TrimSpace(cur.String()))
				cur.Reset()
				continue
			}
		}
		cur.WriteRune(r)
	}
	if p := strings.TrimSpace(cur.String()); p != "" {
		params = append(params, p)
	}
	return params
}
