// Package vcs talks to the version-control host: it reads repository
// content and history for the pipeline's earlier stages, and opens fix
// pull requests for the dispatcher.
package vcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/codedebt/guardian/internal/types"
)

// PullRequest is the host's handle for an opened fix PR.
type PullRequest struct {
	Number int
	URL    string
	Branch string
}

// FixRequest bundles everything needed to open one fix PR.
type FixRequest struct {
	Item     *types.DebtItem
	Proposal *types.FixProposal
	Interest *types.InterestReport
	RunID    string
	Draft    bool
}

// Client is the version-control collaborator. Implementations must wrap
// recoverable host failures with types.Transient so the pipeline can defer
// instead of aborting.
type Client interface {
	// DefaultBranch returns the repository's default branch name.
	DefaultBranch(ctx context.Context, repository string) (string, error)

	// ListFiles returns every file path in the repository tree at the
	// given ref.
	ListFiles(ctx context.Context, repository, ref string) ([]string, error)

	// GetFileContent returns the content of one file at the given ref
	// (empty ref means the default branch).
	GetFileContent(ctx context.Context, repository, path, ref string) (string, error)

	// LatestCommitFiles lists the files changed by the most recent commit
	// on the default branch. Autopilot uses this as its change scope.
	LatestCommitFiles(ctx context.Context, repository string) ([]string, error)

	// HistoryProfile summarizes the commit history touching one file.
	HistoryProfile(ctx context.Context, repository, path string) (*types.HistoryProfile, error)

	// OpenFixPullRequest creates a branch, commits the proposed fix, and
	// opens a pull request. It never merges anything.
	OpenFixPullRequest(ctx context.Context, req *FixRequest) (*PullRequest, error)
}

// SplitRepository parses an "owner/name" repository identifier.
func SplitRepository(repository string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q (want owner/name)", repository)
	}
	return owner, name, nil
}

// BranchName is the deterministic fix-branch name for a fingerprint, so a
// retried dispatch lands on the same branch instead of minting new ones.
func BranchName(fingerprint string) string {
	return "guardian/fix-" + fingerprint
}
