package definition

import (
	"log/slog"
	"testing"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/persistence"
	"github.com/dukex/flowengine/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveRejectsInvalidGraph(t *testing.T) {
	t.Parallel()

	p := file.NewPersistence(t.TempDir())
	store, err := NewStore(p.WorkflowRepository(), slog.Default())
	require.NoError(t, err)

	workflow := approvalWorkflow()
	workflow.Edges = workflow.Edges[:1]

	err = store.Save(t.Context(), workflow)
	require.Error(t, err)

	var graphErr *models.InvalidGraphError
	require.ErrorAs(t, err, &graphErr)
	// three unreachable nodes, and the branch has neither edges nor a label source
	assert.Len(t, graphErr.Violations, 5)

	_, err = store.Get(t.Context(), workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestStore_SaveGetListDelete(t *testing.T) {
	t.Parallel()

	p := file.NewPersistence(t.TempDir())
	store, err := NewStore(p.WorkflowRepository(), slog.Default())
	require.NoError(t, err)

	ctx := t.Context()

	require.NoError(t, store.Save(ctx, approvalWorkflow()))

	loaded, err := store.Get(ctx, "approval")
	require.NoError(t, err)
	assert.Len(t, loaded.Nodes, 5)
	assert.Equal(t, "route", loaded.Edges[2].From)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.Delete(ctx, "approval"))

	_, err = store.Get(ctx, "approval")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}
