package memory

import (
	"testing"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistence_Suite(t *testing.T) {
	p, err := NewPersistence()
	require.NoError(t, err)

	persistencetest.Run(t, p)
}

func TestExecutionRepository_ReturnsCopies(t *testing.T) {
	p, err := NewPersistence()
	require.NoError(t, err)

	execution := persistencetest.NewExecution("wf-1", "application-1")
	require.NoError(t, p.ExecutionRepository().Create(t.Context(), execution))

	execution.Context["application"] = "mutated"

	loaded, err := p.ExecutionRepository().GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "started"}, loaded.Context["application"])

	loaded.Status = models.ExecutionStatusRunning

	again, err := p.ExecutionRepository().GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, again.Status)
}
