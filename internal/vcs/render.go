package vcs

import (
	"fmt"
	"strings"

	"github.com/codedebt/guardian/internal/types"
)

// PRTitle renders the pull request title for a fix.
func PRTitle(item *types.DebtItem) string {
	desc := item.Description
	if len(desc) > 60 {
		desc = desc[:57] + "..."
	}
	return fmt.Sprintf("fix(debt): %s in %s", desc, item.FilePath)
}

// CommitMessage renders the single-commit message for a fix branch.
func CommitMessage(item *types.DebtItem, proposal *types.FixProposal) string {
	return fmt.Sprintf("Fix %s at %s\n\n%s\n", item.Pattern, item.Location(), proposal.Rationale)
}

// PRBody renders the pull request description: what was found, the patch,
// and what deferring the fix is modeled to cost.
func PRBody(req *FixRequest) string {
	item, prop := req.Item, req.Proposal

	var b strings.Builder
	b.WriteString("## Technical debt fix\n\n")
	fmt.Fprintf(&b, "**%s** at `%s`\n\n", item.Description, item.Location())
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Severity | %s |\n", item.Severity)
	fmt.Fprintf(&b, "| Category | %s |\n", item.Category)
	fmt.Fprintf(&b, "| Pattern | `%s` |\n", item.Pattern)
	fmt.Fprintf(&b, "| Estimated effort | %s |\n", prop.Effort)
	fmt.Fprintf(&b, "| Source | %s |\n\n", prop.Source)

	if prop.Rationale != "" {
		fmt.Fprintf(&b, "%s\n\n", prop.Rationale)
	}

	b.WriteString("### Change\n\n```diff\n")
	b.WriteString(prop.Patch())
	b.WriteString("```\n")

	if req.Interest != nil {
		b.WriteString("\n### Cost of deferring\n\n")
		fmt.Fprintf(&b, "Fixing this today is estimated at **$%.2f**. Left for %d more quarter(s) at a %.0f%% compounding rate it grows to **$%.2f**.\n",
			req.Interest.CostToday, req.Interest.HorizonQuarters,
			req.Interest.CompoundingRate*100, req.Interest.CostAtHorizon)
		if req.Interest.Summary != "" {
			fmt.Fprintf(&b, "\n%s\n", req.Interest.Summary)
		}
	}

	fmt.Fprintf(&b, "\n---\nOpened by guardian (run `%s`, fingerprint `%s`). Review before merging; nothing is merged automatically.\n",
		req.RunID, item.Fingerprint)
	return b.String()
}
