package locator

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/decom/telemetry"
	"github.com/yairfalse/decom/types"
)

type stubLister struct {
	candidates []types.Candidate
	err        error
}

func (s *stubLister) ListInstances(ctx context.Context, filters []types.TagFilter) ([]types.Candidate, error) {
	return s.candidates, s.err
}

func testLogger() *telemetry.Logger {
	return telemetry.NewLogger("locator-test", io.Discard)
}

var testFilters = []types.TagFilter{
	{Key: "Project", Values: []string{"Automation"}},
	{Key: "Environment", Values: []string{"Test", "Dev"}},
}

func TestLocatePreservesOrderAndExcludesTerminal(t *testing.T) {
	lister := &stubLister{candidates: []types.Candidate{
		{InstanceID: "i-1", State: types.StateRunning, Tags: map[string]string{"Project": "Automation", "Environment": "Test"}},
		{InstanceID: "i-2", State: types.StateShuttingDown, Tags: map[string]string{"Project": "Automation", "Environment": "Test"}},
		{InstanceID: "i-3", State: types.StateStopped, Tags: map[string]string{"Project": "Automation", "Environment": "Dev"}},
		{InstanceID: "i-4", State: types.StateTerminated, Tags: map[string]string{"Project": "Automation", "Environment": "Dev"}},
	}}

	candidates, err := New(lister, testLogger()).Locate(context.Background(), testFilters)
	require.NoError(t, err)

	require.Len(t, candidates, 2)
	assert.Equal(t, "i-1", candidates[0].InstanceID)
	assert.Equal(t, "i-3", candidates[1].InstanceID)
}

func TestLocateRechecksFilterSemantics(t *testing.T) {
	// A loose provider match must not survive the client-side re-check
	lister := &stubLister{candidates: []types.Candidate{
		{InstanceID: "i-1", State: types.StateRunning, Tags: map[string]string{"Project": "Automation", "Environment": "Prod"}},
	}}

	candidates, err := New(lister, testLogger()).Locate(context.Background(), testFilters)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestLocateListErrorIsFatal(t *testing.T) {
	lister := &stubLister{err: errors.New("UnauthorizedOperation")}

	_, err := New(lister, testLogger()).Locate(context.Background(), testFilters)
	require.Error(t, err)

	var fatal *FatalError
	assert.ErrorAs(t, err, &fatal)
}

func TestLocateRefusesEmptyFilterSet(t *testing.T) {
	lister := &stubLister{candidates: []types.Candidate{
		{InstanceID: "i-1", State: types.StateRunning},
	}}

	_, err := New(lister, testLogger()).Locate(context.Background(), nil)
	var fatal *FatalError
	assert.ErrorAs(t, err, &fatal)
}
