// Package locator establishes the candidate list for a decommission run.
// A locate failure is fatal for the whole run: with no trustworthy candidate
// list there is nothing safe to act on.
package locator

import (
	"context"
	"fmt"

	"github.com/yairfalse/decom/telemetry"
	"github.com/yairfalse/decom/types"
)

// InstanceLister is the provider capability the locator consumes
type InstanceLister interface {
	ListInstances(ctx context.Context, filters []types.TagFilter) ([]types.Candidate, error)
}

// FatalError marks a failure that aborts the run before any instance is
// touched
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Locator produces the ordered candidate list for a filter set
type Locator struct {
	lister InstanceLister
	logger *telemetry.Logger
}

// New creates a Locator
func New(lister InstanceLister, logger *telemetry.Logger) *Locator {
	return &Locator{lister: lister, logger: logger}
}

// Locate lists instances matching filters, preserving the provider's listing
// order. The provider already skips terminal states; the client-side
// re-check keeps the AND/OR semantics authoritative even when a provider
// matches tags loosely.
func (l *Locator) Locate(ctx context.Context, filters []types.TagFilter) ([]types.Candidate, error) {
	if len(filters) == 0 {
		return nil, &FatalError{Err: fmt.Errorf("refusing to locate without tag filters")}
	}

	listed, err := l.lister.ListInstances(ctx, filters)
	if err != nil {
		return nil, &FatalError{Err: fmt.Errorf("failed to list instances: %w", err)}
	}

	candidates := make([]types.Candidate, 0, len(listed))
	for _, c := range listed {
		if types.IsTerminal(c.State) {
			continue
		}
		if !c.MatchesFilters(filters) {
			continue
		}
		candidates = append(candidates, c)
	}

	l.logger.WithContext(ctx).Info().
		Int("listed", len(listed)).
		Int("candidates", len(candidates)).
		Msg("located candidates")

	return candidates, nil
}
