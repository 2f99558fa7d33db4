package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardEvaluator_Next_EveryFiveMinutes(t *testing.T) {
	eval := NewStandardEvaluator()

	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := eval.Next("*/5 * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC), next)
}

func TestStandardEvaluator_Next_IsIdempotentOnSameInput(t *testing.T) {
	eval := NewStandardEvaluator()
	after := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	a, err := eval.Next("0 9 * * *", after)
	require.NoError(t, err)
	b, err := eval.Next("0 9 * * *", after)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestStandardEvaluator_Next_RejectsMalformedExpression(t *testing.T) {
	eval := NewStandardEvaluator()
	_, err := eval.Next("not a cron expression", time.Now())
	assert.Error(t, err)
}
