package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/followup/pkg/engine"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancel_PendingExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.activate(t, waitThenEmail("cancel-pending"))

	triggered := f.trigger(t, wf.ID)
	require.True(t, triggered.Accepted)

	cancelled, err := f.engine.Cancel(ctx, triggered.ExecutionID, "candidate withdrew")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	result, err := f.engine.Advance(ctx, triggered.ExecutionID)
	require.ErrorIs(t, err, engine.ErrNotRunnable)
	assert.False(t, result.Success)
	assert.Equal(t, models.ExecutionStatusCancelled, result.Status)

	_, err = f.engine.Cancel(ctx, triggered.ExecutionID, "again")
	assert.ErrorIs(t, err, engine.ErrAlreadyTerminal)

	again := f.trigger(t, wf.ID)
	assert.True(t, again.Accepted)
}

func TestStatus_ReportsSchedule(t *testing.T) {
	f := newFixture(t)
	wf := f.activate(t, waitThenEmail("status-report"))

	triggered := f.trigger(t, wf.ID)

	report, err := f.engine.Status(context.Background(), triggered.ExecutionID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPending, report.Status)
	assert.Equal(t, 1, report.CurrentActionIndex)
	require.NotNil(t, report.NextScheduledAt)
	assert.True(t, epoch.Add(time.Hour).Equal(*report.NextScheduledAt))
	require.Len(t, report.ActionResults, 1)
	assert.Equal(t, models.ActionResultScheduled, report.ActionResults[0].Status)

	_, err = f.engine.Status(context.Background(), "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestAdvance_UnknownExecution(t *testing.T) {
	f := newFixture(t)

	result, err := f.engine.Advance(context.Background(), "missing")

	assert.True(t, persistence.IsExecutionNotFound(err))
	assert.False(t, result.Success)
	assert.Equal(t, "missing", result.ExecutionID)
	assert.NotEmpty(t, result.Error)
}
