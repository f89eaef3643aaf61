package proposal

import (
	"fmt"
	"strings"

	"github.com/codedebt/guardian/internal/types"
)

// template turns one detected pattern occurrence into a concrete patch.
// Render returns an error when the occurrence does not look like what the
// template expects; the proposer then falls back to the external generator.
type template struct {
	ID        string
	Pattern   string // detector pattern this template handles
	Rationale string
	Render    func(target string) (before, after string, err error)
}

// templates maps detector patterns to deterministic fixes. These cover the
// shapes the scanner actually emits; anything irregular goes to the
// fallback generator instead of producing a wrong patch.
var templates = []template{
	{
		ID:        "remove-bare-except",
		Pattern:   "bare-except",
		Rationale: "Replace the bare except with a typed handler so unexpected errors are not silently swallowed.",
		Render:    renderBareExcept,
	},
	{
		ID:        "redact-credential",
		Pattern:   "hardcoded-credential",
		Rationale: "Move the hardcoded credential into an environment variable.",
		Render:    renderRedactCredential,
	},
	{
		ID:        "add-docstring-stub",
		Pattern:   "missing-docstring",
		Rationale: "Add a docstring stub so the function's contract gets written down.",
		Render:    renderDocstringStub,
	},
	{
		ID:        "extract-long-function-marker",
		Pattern:   "long-function",
		Rationale: "Mark the function for decomposition; it has grown past the readable size.",
		Render:    renderLongFunctionMarker,
	},
	{
		ID:        "add-type-hint-stub",
		Pattern:   "missing-type-hints",
		Rationale: "Add a provisional return annotation as a starting point for typing the function.",
		Render:    renderTypeHintStub,
	},
	{
		ID:        "dedupe-extract-helper",
		Pattern:   "duplicate-code",
		Rationale: "Flag the duplicated block so the shared logic gets extracted into one helper.",
		Render:    renderDedupeMarker,
	},
}

func templateFor(pattern string) *template {
	for i := range templates {
		if templates[i].Pattern == pattern {
			return &templates[i]
		}
	}
	return nil
}

func indentOf(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

func renderBareExcept(target string) (string, string, error) {
	if strings.TrimSpace(target) != "except:" {
		return "", "", fmt.Errorf("not a bare except clause: %q", target)
	}
	indent := indentOf(target)
	return target + "\n", indent + "except Exception:\n", nil
}

func renderRedactCredential(target string) (string, string, error) {
	name, _, ok := strings.Cut(strings.TrimSpace(target), "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.ContainsAny(name, " \t(") {
		return "", "", fmt.Errorf("not a simple credential assignment: %q", target)
	}
	indent := indentOf(target)
	after := fmt.Sprintf("%s%s = os.environ[%q]\n", indent, name, strings.ToUpper(name))
	return target + "\n", after, nil
}

func renderDocstringStub(target string) (string, string, error) {
	name, err := declaredName(target)
	if err != nil {
		return "", "", err
	}
	indent := indentOf(target)
	after := fmt.Sprintf("%s\n%s    \"\"\"TODO: document %s.\"\"\"\n", target, indent, name)
	return target + "\n", after, nil
}

func renderLongFunctionMarker(target string) (string, string, error) {
	if _, err := declaredName(target); err != nil {
		return "", "", err
	}
	indent := indentOf(target)
	after := fmt.Sprintf("%s# REFACTOR: split this function into smaller helpers\n%s\n", indent, target)
	return target + "\n", after, nil
}

func renderTypeHintStub(target string) (string, string, error) {
	trimmed := strings.TrimSpace(target)
	if !strings.HasPrefix(trimmed, "def ") && !strings.HasPrefix(trimmed, "async def ") {
		return "", "", fmt.Errorf("not a function definition: %q", target)
	}
	if strings.Contains(target, "->") {
		return "", "", fmt.Errorf("function already annotated: %q", target)
	}
	if !strings.HasSuffix(trimmed, "):") {
		return "", "", fmt.Errorf("definition does not end on one line: %q", target)
	}
	after := strings.TrimSuffix(strings.TrimRight(target, " \t"), ":") + " -> None:\n"
	return target + "\n", after, nil
}

func renderDedupeMarker(target string) (string, string, error) {
	if strings.TrimSpace(target) == "" {
		return "", "", fmt.Errorf("empty duplicate block")
	}
	indent := indentOf(target)
	after := fmt.Sprintf("%s# REFACTOR: duplicated logic, extract a shared helper\n%s\n", indent, target)
	return target + "\n", after, nil
}

// declaredName extracts the identifier from a def/async def/class line.
func declaredName(line string) (string, error) {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"async def ", "def ", "class "} {
		if strings.HasPrefix(trimmed, prefix) {
			rest := trimmed[len(prefix):]
			end := strings.IndexAny(rest, "(:")
			if end <= 0 {
				break
			}
			return strings.TrimSpace(rest[:end]), nil
		}
	}
	return "", fmt.Errorf("not a declaration: %q", line)
}

// effective target line: the snippet if the detector captured one,
// otherwise the line the item points at.
func targetLine(item *types.DebtItem, fileContent string) (string, error) {
	if item.Snippet != "" {
		return strings.TrimRight(item.Snippet, "\n"), nil
	}
	lines := strings.Split(fileContent, "\n")
	if item.Line < 1 || item.Line > len(lines) {
		return "", fmt.Errorf("line %d out of range for %s", item.Line, item.FilePath)
	}
	return lines[item.Line-1], nil
}
