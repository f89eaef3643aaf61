package safety

import (
	"fmt"
	"strings"
)

// PythonAnalyzer is the built-in SourceAnalyzer for Python source. It is a
// structural checker, not a full parser: it catches the failure modes that
// automated patches actually produce (unbalanced brackets, unterminated
// strings, block headers with no body) without shelling out to an
// interpreter. Deterministic, no I/O.
type PythonAnalyzer struct{}

// NewPythonAnalyzer creates the built-in Python source analyzer.
func NewPythonAnalyzer() *PythonAnalyzer {
	return &PythonAnalyzer{}
}

// CheckSyntax runs the structural checks over content.
func (a *PythonAnalyzer) CheckSyntax(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("file is empty after patching")
	}
	if strings.ContainsRune(content, '\x00') {
		return fmt.Errorf("file contains NUL bytes")
	}
	if err := checkBrackets(content); err != nil {
		return err
	}
	return checkBlockHeaders(content)
}

// TopLevelSignatures extracts column-zero def/class declarations.
func (a *PythonAnalyzer) TopLevelSignatures(content string) []Signature {
	var sigs []Signature
	for i, line := range strings.Split(content, "\n") {
		name := declaredName(line)
		if name != "" {
			sigs = append(sigs, Signature{Name: name, Line: i + 1})
		}
	}
	return sigs
}

// declaredName returns the identifier of a top-level def/class line, or "".
func declaredName(line string) string {
	if len(line) == 0 || line[0] == ' ' || line[0] == '\t' {
		return ""
	}
	rest := ""
	switch {
	case strings.HasPrefix(line, "def "):
		rest = line[len("def "):]
	case strings.HasPrefix(line, "async def "):
		rest = line[len("async def "):]
	case strings.HasPrefix(line, "class "):
		rest = line[len("class "):]
	default:
		return ""
	}
	end := strings.IndexAny(rest, "(: ")
	if end < 0 {
		end = len(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// checkBrackets verifies (), [], {} nest correctly outside string literals
// and comments. Triple-quoted strings are skipped wholesale; single-quoted
// strings terminate at end of line.
func checkBrackets(content string) error {
	var stack []rune
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	var triple string // `"""` or `'''` while inside a triple-quoted string

	for lineNo, line := range strings.Split(content, "\n") {
		i := 0
		for i < len(line) {
			if triple != "" {
				end := strings.Index(line[i:], triple)
				if end < 0 {
					i = len(line)
					break
				}
				i += end + len(triple)
				triple = ""
				continue
			}

			c := line[i]
			switch {
			case strings.HasPrefix(line[i:], `"""`) || strings.HasPrefix(line[i:], "'''"):
				triple = line[i : i+3]
				i += 3
			case c == '#':
				i = len(line)
			case c == '"' || c == '\'':
				// Single-line string: scan to the closing quote.
				j := i + 1
				for j < len(line) {
					if line[j] == '\\' {
						j += 2
						continue
					}
					if line[j] == c {
						break
					}
					j++
				}
				i = j + 1
			case c == '(' || c == '[' || c == '{':
				stack = append(stack, rune(c))
				i++
			case c == ')' || c == ']' || c == '}':
				if len(stack) == 0 || stack[len(stack)-1] != pairs[rune(c)] {
					return fmt.Errorf("unbalanced %q at line %d", c, lineNo+1)
				}
				stack = stack[:len(stack)-1]
				i++
			default:
				i++
			}
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q", stack[len(stack)-1])
	}
	return nil
}

// checkBlockHeaders verifies every block header (a line ending in ':') is
// followed by a more-indented statement.
func checkBlockHeaders(content string) error {
	lines := strings.Split(content, "\n")
	for i, raw := range lines {
		line := strings.TrimRight(raw, " \t")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if !strings.HasSuffix(trimmed, ":") || !isBlockHeader(trimmed) {
			continue
		}
		headerIndent := indentOf(raw)
		// Find the next non-blank, non-comment line.
		found := false
		for j := i + 1; j < len(lines); j++ {
			next := strings.TrimSpace(lines[j])
			if next == "" || strings.HasPrefix(next, "#") {
				continue
			}
			if indentOf(lines[j]) > headerIndent {
				found = true
			}
			break
		}
		if !found {
			return fmt.Errorf("block header at line %d has no indented body", i+1)
		}
	}
	return nil
}

var blockKeywords = []string{
	"def ", "async def ", "class ", "if ", "elif ", "else", "for ",
	"while ", "try", "except", "finally", "with ",
}

func isBlockHeader(trimmed string) bool {
	for _, kw := range blockKeywords {
		if strings.HasPrefix(trimmed, kw) || trimmed == strings.TrimSpace(kw)+":" {
			return true
		}
	}
	return false
}

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 8
		default:
			return n
		}
	}
	return n
}
