package offline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanops/fieldsync/internal/database"
	"github.com/cleanops/fieldsync/internal/models"
	"github.com/cleanops/fieldsync/internal/sync"
)

// switchableOnline flips between offline and online mid-test
type switchableOnline struct{ online bool }

func (s *switchableOnline) IsOnline() bool { return s.online }

// The canonical offline shift: jobs preloaded in the morning, the
// connection drops, three checklist items get completed in the field,
// and the evening sync drains everything the device owes.
func TestOfflineChecklistWorkSyncsOnReconnect(t *testing.T) {
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	net := &switchableOnline{online: true}
	api := &stubAPI{jobs: []sync.JobSnapshot{snapshot(t, `{"id":"srv-1","address":"12 Elm St","checklist":[
		{"itemId":"vacuum","label":"Vacuum all rooms"},
		{"itemId":"mop","label":"Mop kitchen"},
		{"itemId":"windows","label":"Clean windows"}]}`)}}

	manager := NewManager(db, api, net)
	engine := sync.NewEngine(db, api, net)

	_, err = manager.PreloadJobs(context.Background())
	require.NoError(t, err)

	job, err := db.GetJobByServerID("srv-1")
	require.NoError(t, err)

	// Connection drops; field work continues locally.
	net.online = false

	require.NoError(t, manager.UpdateChecklistItem(job.LocalID, "vacuum", true))
	require.NoError(t, manager.UpdateChecklistItem(job.LocalID, "mop", true))
	require.NoError(t, manager.UpdateChecklistItem(job.LocalID, "windows", true))

	count, err := db.PendingSyncCount()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Syncing while still offline is rejected outright.
	result := engine.StartSync(context.Background())
	assert.Equal(t, "offline", result.Reason)

	// Back online; one pass drains all three checklist operations.
	net.online = true
	result = engine.StartSync(context.Background())
	require.True(t, result.Success)
	assert.Equal(t, 3, result.Synced)

	ops, err := db.OperationsForJob(job.LocalID)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	for _, op := range ops {
		assert.Equal(t, models.OperationChecklist, op.Type)
		assert.Equal(t, models.OperationStatusDone, op.Status)
	}

	count, err = db.PendingSyncCount()
	require.NoError(t, err)
	assert.Zero(t, count)

	job, err = db.GetJobByServerID("srv-1")
	require.NoError(t, err)
	assert.False(t, job.PendingSync)

	assert.Equal(t, sync.StatusCompleted, engine.Progress().Status)
}
