package vcs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"

	"github.com/codedebt/guardian/internal/cache"
	"github.com/codedebt/guardian/internal/types"
)

// historyWindow bounds how many commits we read per file when profiling
// history. Enough for the compounding model, cheap on the API.
const historyWindow = 100

// GitHub implements Client against the GitHub REST API.
type GitHub struct {
	client   *github.Client
	files    *cache.Cache[string]
	profiles *cache.Cache[*types.HistoryProfile]
}

// NewGitHub creates a GitHub client. An empty token gives unauthenticated
// (read-only, heavily rate-limited) access, which is enough for dry runs.
func NewGitHub(token string) (*GitHub, error) {
	var client *github.Client
	if token == "" {
		client = github.NewClient(nil)
	} else {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		client = github.NewClient(oauth2.NewClient(context.Background(), ts))
	}

	files, err := cache.New[string](cache.DefaultSize)
	if err != nil {
		return nil, err
	}
	profiles, err := cache.New[*types.HistoryProfile](cache.DefaultSize)
	if err != nil {
		return nil, err
	}
	return &GitHub{client: client, files: files, profiles: profiles}, nil
}

// DefaultBranch returns the repository's default branch name.
func (g *GitHub) DefaultBranch(ctx context.Context, repository string) (string, error) {
	owner, name, err := SplitRepository(repository)
	if err != nil {
		return "", err
	}
	repo, _, err := g.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", wrapHostError("get repository", err)
	}
	return repo.GetDefaultBranch(), nil
}

// ListFiles returns every blob path in the repository tree at the given ref.
func (g *GitHub) ListFiles(ctx context.Context, repository, ref string) ([]string, error) {
	owner, name, err := SplitRepository(repository)
	if err != nil {
		return nil, err
	}
	tree, _, err := g.client.Git.GetTree(ctx, owner, name, ref, true)
	if err != nil {
		return nil, wrapHostError("get tree", err)
	}

	var paths []string
	for _, entry := range tree.Entries {
		if entry.GetType() == "blob" {
			paths = append(paths, entry.GetPath())
		}
	}
	return paths, nil
}

// GetFileContent returns one file's content at the given ref.
func (g *GitHub) GetFileContent(ctx context.Context, repository, path, ref string) (string, error) {
	key := repository + "@" + ref + ":" + path
	if content, ok := g.files.Get(key); ok {
		return content, nil
	}

	owner, name, err := SplitRepository(repository)
	if err != nil {
		return "", err
	}
	file, _, _, err := g.client.Repositories.GetContents(ctx, owner, name, path,
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", wrapHostError("get file content", err)
	}
	if file == nil {
		return "", fmt.Errorf("%s is a directory, not a file", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", path, err)
	}

	g.files.Put(key, content)
	return content, nil
}

// LatestCommitFiles lists the files changed by the most recent commit on
// the default branch.
func (g *GitHub) LatestCommitFiles(ctx context.Context, repository string) ([]string, error) {
	owner, name, err := SplitRepository(repository)
	if err != nil {
		return nil, err
	}

	commits, _, err := g.client.Repositories.ListCommits(ctx, owner, name,
		&github.CommitsListOptions{ListOptions: github.ListOptions{PerPage: 1}})
	if err != nil {
		return nil, wrapHostError("list commits", err)
	}
	if len(commits) == 0 {
		return nil, nil
	}

	commit, _, err := g.client.Repositories.GetCommit(ctx, owner, name,
		commits[0].GetSHA(), nil)
	if err != nil {
		return nil, wrapHostError("get commit", err)
	}

	var paths []string
	for _, f := range commit.Files {
		paths = append(paths, f.GetFilename())
	}
	return paths, nil
}

// HistoryProfile summarizes the commit history touching one file: age of
// the oldest visible commit, number of touches, and distinct authors.
func (g *GitHub) HistoryProfile(ctx context.Context, repository, path string) (*types.HistoryProfile, error) {
	key := repository + ":" + path
	if profile, ok := g.profiles.Get(key); ok {
		return profile, nil
	}

	owner, name, err := SplitRepository(repository)
	if err != nil {
		return nil, err
	}
	commits, _, err := g.client.Repositories.ListCommits(ctx, owner, name,
		&github.CommitsListOptions{
			Path:        path,
			ListOptions: github.ListOptions{PerPage: historyWindow},
		})
	if err != nil {
		return nil, wrapHostError("list file history", err)
	}

	profile := &types.HistoryProfile{TouchCount: len(commits)}
	authors := make(map[string]struct{})
	var oldest, newest time.Time
	for _, c := range commits {
		if a := c.GetCommit().GetAuthor(); a != nil {
			if email := a.GetEmail(); email != "" {
				authors[email] = struct{}{}
			}
			when := a.GetDate().Time
			if oldest.IsZero() || when.Before(oldest) {
				oldest = when
			}
			if when.After(newest) {
				newest = when
			}
		}
	}
	profile.DistinctAuthors = len(authors)
	profile.LastTouched = newest
	if !oldest.IsZero() {
		profile.AgeMonths = int(time.Since(oldest).Hours() / (24 * 30))
	}

	g.profiles.Put(key, profile)
	return profile, nil
}

// OpenFixPullRequest creates (or reuses) the fix branch, commits the
// patched file, and opens a draft-or-not pull request against the default
// branch. Host failures come back wrapped as transient so the dispatcher
// defers the item instead of burning its claim.
func (g *GitHub) OpenFixPullRequest(ctx context.Context, req *FixRequest) (*PullRequest, error) {
	owner, name, err := SplitRepository(req.Item.Repository)
	if err != nil {
		return nil, err
	}

	base, err := g.DefaultBranch(ctx, req.Item.Repository)
	if err != nil {
		return nil, err
	}
	branch := BranchName(req.Item.Fingerprint)

	baseRef, _, err := g.client.Git.GetRef(ctx, owner, name, "refs/heads/"+base)
	if err != nil {
		return nil, wrapHostError("get base ref", err)
	}
	_, _, err = g.client.Git.CreateRef(ctx, owner, name, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: baseRef.Object.SHA},
	})
	if err != nil && !isAlreadyExists(err) {
		return nil, wrapHostError("create fix branch", err)
	}

	// Fetch the file on the fix branch so retries see their own commit.
	file, _, _, err := g.client.Repositories.GetContents(ctx, owner, name,
		req.Proposal.FilePath, &github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		return nil, wrapHostError("get target file", err)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", req.Proposal.FilePath, err)
	}

	patched, changed := ApplyProposal(content, req.Proposal)
	if changed {
		_, _, err = g.client.Repositories.UpdateFile(ctx, owner, name, req.Proposal.FilePath,
			&github.RepositoryContentFileOptions{
				Message: github.String(CommitMessage(req.Item, req.Proposal)),
				Content: []byte(patched),
				SHA:     file.SHA,
				Branch:  github.String(branch),
			})
		if err != nil {
			return nil, wrapHostError("commit fix", err)
		}
	}

	pr, _, err := g.client.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
		Title:               github.String(PRTitle(req.Item)),
		Head:                github.String(branch),
		Base:                github.String(base),
		Body:                github.String(PRBody(req)),
		Draft:               github.Bool(req.Draft),
		MaintainerCanModify: github.Bool(true),
	})
	if err != nil {
		return nil, wrapHostError("open pull request", err)
	}

	return &PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		Branch: branch,
	}, nil
}

// ApplyProposal replaces the first occurrence of the proposal's before-code.
// It reports false when the patch no longer matches (already applied, or
// the file moved on).
func ApplyProposal(content string, p *types.FixProposal) (string, bool) {
	if p.BeforeCode == "" || !strings.Contains(content, p.BeforeCode) {
		return content, false
	}
	return strings.Replace(content, p.BeforeCode, p.AfterCode, 1), true
}

// wrapHostError classifies a GitHub API failure. Server-side and network
// problems are transient; the host rejecting the request is not.
func wrapHostError(op string, err error) error {
	if resp, ok := err.(*github.ErrorResponse); ok && resp.Response != nil {
		code := resp.Response.StatusCode
		if code >= 400 && code < 500 && code != 429 {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return types.Transient(op, err)
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Reference already exists")
}
