// Package proposal turns detected debt items into concrete fix proposals.
// Deterministic templates handle the patterns the scanner knows how to fix
// mechanically; everything else goes to an external completion service,
// whose output is structurally checked before it becomes a proposal.
package proposal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codedebt/guardian/internal/ai"
	"github.com/codedebt/guardian/internal/cache"
	"github.com/codedebt/guardian/internal/types"
)

// Outcome tags how a proposal was (or was not) produced.
type Outcome string

const (
	OutcomeTemplateMatch    Outcome = "template-match"
	OutcomeExternalFallback Outcome = "external-fallback"
	OutcomeNoProposal       Outcome = "no-proposal"
)

// Proposer generates fix proposals. The completer is optional: with a nil
// completer only template fixes are produced.
type Proposer struct {
	completer ai.Completer
	responses *cache.Cache[string]
}

// NewProposer creates a proposer. completer may be nil to disable the
// external fallback.
func NewProposer(completer ai.Completer) (*Proposer, error) {
	responses, err := cache.New[string](cache.DefaultSize)
	if err != nil {
		return nil, err
	}
	return &Proposer{completer: completer, responses: responses}, nil
}

// Propose generates a fix for one item against the current file content.
// The returned outcome is always meaningful: OutcomeNoProposal with a nil
// error means the item is simply not fixable automatically, while
// OutcomeNoProposal with a transient error means the fallback was
// unavailable and the item may be retried next run.
func (p *Proposer) Propose(ctx context.Context, item *types.DebtItem, fileContent string) (*types.FixProposal, Outcome, error) {
	if err := item.Validate(); err != nil {
		return nil, OutcomeNoProposal, types.ContractViolationf("proposing for invalid item: %v", err)
	}

	if tmpl := templateFor(item.Pattern); tmpl != nil {
		prop, err := p.fromTemplate(tmpl, item, fileContent)
		if err == nil {
			return prop, OutcomeTemplateMatch, nil
		}
		// Irregular occurrence: fall through to the external generator.
	}

	if p.completer == nil {
		return nil, OutcomeNoProposal, nil
	}

	prop, err := p.fromCompleter(ctx, item, fileContent)
	if err != nil {
		return nil, OutcomeNoProposal, err
	}
	return prop, OutcomeExternalFallback, nil
}

func (p *Proposer) fromTemplate(tmpl *template, item *types.DebtItem, fileContent string) (*types.FixProposal, error) {
	target, err := targetLine(item, fileContent)
	if err != nil {
		return nil, err
	}
	before, after, err := tmpl.Render(target)
	if err != nil {
		return nil, err
	}
	prop := &types.FixProposal{
		Fingerprint: item.Fingerprint,
		FilePath:    item.FilePath,
		BeforeCode:  before,
		AfterCode:   after,
		TemplateID:  tmpl.ID,
		Source:      types.SourceTemplate,
		Effort:      types.EffortForSeverity(item.Severity),
		Rationale:   tmpl.Rationale,
	}
	if err := p.check(prop, fileContent); err != nil {
		return nil, err
	}
	return prop, nil
}

// completionReply is the JSON shape the external generator is asked for.
type completionReply struct {
	BeforeCode string `json:"before_code"`
	AfterCode  string `json:"after_code"`
	Rationale  string `json:"rationale"`
}

func (p *Proposer) fromCompleter(ctx context.Context, item *types.DebtItem, fileContent string) (*types.FixProposal, error) {
	prompt := buildPrompt(item, fileContent)
	key := promptKey(prompt)

	raw, ok := p.responses.Get(key)
	if !ok {
		var err error
		raw, err = p.completer.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("fix generation for %s: %w", item.Location(), err)
		}
		p.responses.Put(key, raw)
	}

	var reply completionReply
	if err := json.Unmarshal([]byte(stripFences(raw)), &reply); err != nil {
		return nil, fmt.Errorf("unparseable fix response for %s: %w", item.Location(), err)
	}
	if strings.TrimSpace(reply.BeforeCode) == "" || strings.TrimSpace(reply.AfterCode) == "" {
		return nil, fmt.Errorf("fix response for %s missing before/after code", item.Location())
	}

	prop := &types.FixProposal{
		Fingerprint: item.Fingerprint,
		FilePath:    item.FilePath,
		BeforeCode:  reply.BeforeCode,
		AfterCode:   reply.AfterCode,
		Source:      types.SourceAIGenerated,
		Effort:      types.EffortForSeverity(item.Severity),
		Rationale:   strings.TrimSpace(reply.Rationale),
	}
	if err := p.check(prop, fileContent); err != nil {
		return nil, err
	}
	return prop, nil
}

// check is the structural pre-check: a proposal must be valid and its
// before-code must actually occur in the current file, or the patch could
// never apply.
func (p *Proposer) check(prop *types.FixProposal, fileContent string) error {
	if err := prop.Validate(); err != nil {
		return err
	}
	if prop.BeforeCode != "" && !strings.Contains(fileContent, prop.BeforeCode) {
		return fmt.Errorf("proposed patch does not match current content of %s", prop.FilePath)
	}
	return nil
}

func buildPrompt(item *types.DebtItem, fileContent string) string {
	var b strings.Builder
	b.WriteString("You are fixing one technical-debt item in a Python file.\n\n")
	fmt.Fprintf(&b, "Issue: %s\n", item.Description)
	fmt.Fprintf(&b, "Pattern: %s (severity %s, category %s)\n", item.Pattern, item.Severity, item.Category)
	fmt.Fprintf(&b, "Location: %s\n\n", item.Location())
	fmt.Fprintf(&b, "Current file content:\n```python\n%s\n```\n\n", fileContent)
	b.WriteString("Produce the smallest safe fix. Respond with ONLY a JSON object:\n")
	b.WriteString(`{"before_code": "<exact lines to replace, verbatim from the file>", "after_code": "<replacement lines>", "rationale": "<one sentence>"}`)
	b.WriteString("\nThe before_code must occur verbatim in the file. Do not restructure unrelated code.")
	return b.String()
}

func promptKey(prompt string) string {
	h := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(h[:])
}

// stripFences removes a surrounding markdown code fence if the generator
// added one despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
