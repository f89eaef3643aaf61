// Package scan detects technical-debt patterns in repository snapshots.
// The pattern scanner is deliberately line-based and conservative: it only
// flags shapes it can describe precisely, because everything it emits is
// fed to the fix proposer downstream.
package scan

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codedebt/guardian/internal/types"
)

// Detector pattern names. The proposer keys its fix templates off these.
const (
	PatternBareExcept          = "bare-except"
	PatternHardcodedCredential = "hardcoded-credential"
	PatternMissingDocstring    = "missing-docstring"
	PatternLongFunction        = "long-function"
	PatternMissingTypeHints    = "missing-type-hints"
	PatternTooManyParams       = "too-many-params"
	PatternDuplicateCode       = "duplicate-code"
)

// File is one source file in a snapshot.
type File struct {
	Path    string
	Content string
}

// Snapshot is the repository state one run operates on. A run never mixes
// snapshots: everything downstream sees these files and nothing newer.
type Snapshot struct {
	Repository string
	Ref        string
	Files      []File
	TakenAt    time.Time
}

// Scanner produces debt items from a snapshot.
type Scanner interface {
	Scan(ctx context.Context, snap *Snapshot) ([]*types.DebtItem, error)
}

// finding is one raw detector hit before item assembly.
type finding struct {
	line     int // 1-based
	pattern  string
	severity types.Severity
	category types.Category
	message  string
	snippet  string
}

type detector func(lines []string) []finding

// PatternScanner runs the built-in Python detectors.
type PatternScanner struct {
	detectors []detector
}

// NewPatternScanner creates a scanner with the full detector set.
func NewPatternScanner() *PatternScanner {
	return &PatternScanner{
		detectors: []detector{
			detectBareExcept,
			detectHardcodedCredentials,
			detectMissingDocstrings,
			detectLongFunctions,
			detectMissingTypeHints,
			detectTooManyParams,
			detectDuplicateBlocks,
		},
	}
}

// Scan runs every detector over every Python file in the snapshot. Items
// are de-duplicated by fingerprint within the run. Distinct patterns can
// collide when they hit the same line and category (a long undocumented
// function fires both missing-docstring and long-function at its def);
// the highest-severity finding wins so the most actionable pattern is the
// one that survives. Ties keep the earlier detector's finding.
func (s *PatternScanner) Scan(ctx context.Context, snap *Snapshot) ([]*types.DebtItem, error) {
	now := snap.TakenAt
	if now.IsZero() {
		now = time.Now()
	}

	seen := make(map[string]int)
	var items []*types.DebtItem
	for _, file := range snap.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if filepath.Ext(file.Path) != ".py" {
			continue
		}

		lines := strings.Split(file.Content, "\n")
		for _, detect := range s.detectors {
			for _, f := range detect(lines) {
				item := &types.DebtItem{
					ID:          uuid.New().String(),
					Repository:  snap.Repository,
					FilePath:    file.Path,
					Line:        f.line,
					Category:    f.category,
					Severity:    f.severity,
					Description: f.message,
					Pattern:     f.pattern,
					Snippet:     f.snippet,
					Fingerprint: types.NewFingerprint(file.Path, f.line, f.category),
					FirstSeen:   now,
					LastSeen:    now,
				}
				if at, dup := seen[item.Fingerprint]; dup {
					if item.Severity.Weight() > items[at].Severity.Weight() {
						items[at] = item
					}
					continue
				}
				seen[item.Fingerprint] = len(items)
				items = append(items, item)
			}
		}
	}
	return items, nil
}
