// Package safety gates every fix proposal before it may be dispatched.
//
// Three independent checks run in order; the first failure decides the
// rejection reason. Validation is deterministic and side-effect free:
// identical (item, proposal) pairs always yield the identical result, and
// a result is terminal for a given proposal hash: a changed patch is a
// new proposal.
package safety

import (
	"fmt"
	"strings"
	"time"

	"github.com/codedebt/guardian/internal/types"
)

// SourceAnalyzer provides the language-specific pieces of validation:
// parsing the patched content and extracting top-level signatures.
// Implementations must be deterministic and must not perform I/O.
type SourceAnalyzer interface {
	// CheckSyntax returns an error describing the first syntax problem
	// in content, or nil when content parses.
	CheckSyntax(content string) error

	// TopLevelSignatures returns the names of top-level functions and
	// classes with the line each is declared on.
	TopLevelSignatures(content string) []Signature
}

// Signature is one top-level function or class declaration.
type Signature struct {
	Name string
	Line int // 1-based declaration line
}

// deniedPattern is one entry of the dangerous-pattern deny list. A fix must
// not cure one debt category by introducing another.
type deniedPattern struct {
	needle string
	label  string
}

var denyList = []deniedPattern{
	{"eval(", "dynamic code execution via eval"},
	{"exec(", "dynamic code execution via exec"},
	{"os.system(", "shell execution via os.system"},
	{"shell=True", "subprocess with shell=True"},
	{"__import__(", "dynamic import"},
	{"except:", "broad exception suppression"},
	{"except Exception: pass", "silent exception suppression"},
}

// secretMarkers flag newly hardcoded credentials. Checked as
// lowercase substring of added lines that also carry a quoted literal.
var secretMarkers = []string{"password =", "api_key =", "secret =", "token ="}

// Validator runs the patch-safety state machine.
type Validator struct {
	analyzer SourceAnalyzer
	clock    func() time.Time
}

// NewValidator creates a validator for the given source analyzer.
// A nil analyzer gets the built-in Python analyzer.
func NewValidator(analyzer SourceAnalyzer) *Validator {
	if analyzer == nil {
		analyzer = NewPythonAnalyzer()
	}
	return &Validator{analyzer: analyzer, clock: time.Now}
}

// Validate applies the proposal to the original file content and runs the
// three safety checks. It never calls out and never mutates its inputs.
func (v *Validator) Validate(item *types.DebtItem, proposal *types.FixProposal, original string) *types.ValidationResult {
	result := &types.ValidationResult{
		Fingerprint:  item.Fingerprint,
		ProposalHash: proposal.Hash(),
		CheckedAt:    v.clock(),
	}

	patched, ok := Apply(original, proposal)
	if !ok {
		// The patch does not apply to this file content: structurally not
		// a diff against the right file.
		result.State = types.ValidationRejected
		result.Reason = types.RejectStructureChanged
		result.Detail = "patch does not apply to current file content"
		return result
	}

	if err := v.analyzer.CheckSyntax(patched); err != nil {
		result.State = types.ValidationRejected
		result.Reason = types.RejectSyntaxInvalid
		result.Detail = err.Error()
		return result
	}

	if detail := v.checkStructure(item, original, patched); detail != "" {
		result.State = types.ValidationRejected
		result.Reason = types.RejectStructureChanged
		result.Detail = detail
		return result
	}

	if detail := checkDangerousPatterns(original, patched); detail != "" {
		result.State = types.ValidationRejected
		result.Reason = types.RejectDangerousPattern
		result.Detail = detail
		return result
	}

	result.State = types.ValidationAccepted
	return result
}

// Apply produces the patched file content, or ok=false when the proposal's
// before-code does not occur in the original. Replacement is first-match
// only so a fix never fans out across the file.
func Apply(original string, proposal *types.FixProposal) (string, bool) {
	before := proposal.BeforeCode
	if strings.TrimSpace(before) == "" {
		return "", false
	}
	if !strings.Contains(original, before) {
		return "", false
	}
	return strings.Replace(original, before, proposal.AfterCode, 1), true
}

// checkStructure enforces that the patched signature set is a superset of
// the original's. The only permitted removal is the specific construct the
// fix targets: the signature declared at the debt item's line.
func (v *Validator) checkStructure(item *types.DebtItem, original, patched string) string {
	origSigs := v.analyzer.TopLevelSignatures(original)
	patchedNames := make(map[string]bool)
	for _, s := range v.analyzer.TopLevelSignatures(patched) {
		patchedNames[s.Name] = true
	}

	var removed []string
	for _, sig := range origSigs {
		if patchedNames[sig.Name] {
			continue
		}
		if sig.Line == item.Line {
			// Removing the debt construct itself is the fix.
			continue
		}
		removed = append(removed, sig.Name)
	}
	if len(removed) > 0 {
		return fmt.Sprintf("fix removed top-level definitions: %s", strings.Join(removed, ", "))
	}
	return ""
}

// checkDangerousPatterns rejects patches that introduce any deny-list
// pattern absent from the original content.
func checkDangerousPatterns(original, patched string) string {
	for _, p := range denyList {
		if strings.Contains(patched, p.needle) && !strings.Contains(original, p.needle) {
			return "introduced " + p.label
		}
	}

	origLower := strings.ToLower(original)
	patchedLower := strings.ToLower(patched)
	for _, marker := range secretMarkers {
		if countHardcoded(patchedLower, marker) > countHardcoded(origLower, marker) {
			return "introduced hardcoded credential (" + strings.TrimSuffix(marker, " =") + ")"
		}
	}
	return ""
}

// countHardcoded counts assignments of a quoted literal to a secret-looking
// name. Reading from the environment or another variable does not count.
func countHardcoded(content, marker string) int {
	count := 0
	for _, line := range strings.Split(content, "\n") {
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(line[idx+len(marker):])
		if strings.HasPrefix(rest, `"`) || strings.HasPrefix(rest, "'") {
			count++
		}
	}
	return count
}
