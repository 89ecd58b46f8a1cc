package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNormalizeAcceptanceHash_IgnoresCaseAndWhitespace(t *testing.T) {
	a := NormalizeAcceptanceHash("Must   pass the   tests")
	b := NormalizeAcceptanceHash("must pass the tests")
	assert.Equal(t, a, b)
}

func TestNormalizeAcceptanceHash_DiffersForDifferentText(t *testing.T) {
	a := NormalizeAcceptanceHash("must pass the tests")
	b := NormalizeAcceptanceHash("must pass all the tests")
	assert.NotEqual(t, a, b)
}

func TestHint_NoHistoryReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	hint := s.Hint(context.Background(), NormalizeAcceptanceHash("anything"))
	assert.Empty(t, hint)
}

func TestHint_ReturnsMostRecentFailureReason(t *testing.T) {
	s := newTestStore(t)
	hash := NormalizeAcceptanceHash("implement the widget")

	require.NoError(t, s.Record(context.Background(), Entry{
		AcceptanceHash: hash, TaskType: "implementation", Outcome: OutcomeFailure,
		JudgeReason: "missed edge case in validation", CompletedAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, s.Record(context.Background(), Entry{
		AcceptanceHash: hash, TaskType: "implementation", Outcome: OutcomeFailure,
		JudgeReason: "forgot to handle nil input", CompletedAt: time.Now(),
	}))

	hint := s.Hint(context.Background(), hash)
	assert.Contains(t, hint, "forgot to handle nil input")
}

func TestHint_IgnoresSuccessOutcomes(t *testing.T) {
	s := newTestStore(t)
	hash := NormalizeAcceptanceHash("implement the widget")

	require.NoError(t, s.Record(context.Background(), Entry{
		AcceptanceHash: hash, TaskType: "implementation", Outcome: OutcomeSuccess,
		JudgeReason: "", CompletedAt: time.Now(),
	}))

	hint := s.Hint(context.Background(), hash)
	assert.Empty(t, hint)
}
