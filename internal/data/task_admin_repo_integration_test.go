package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeshield/aegis/internal/domain/model"
	"github.com/homeshield/aegis/internal/domain/schedule"
	apperrors "github.com/homeshield/aegis/internal/errors"
	"github.com/homeshield/aegis/internal/testutil"
)

func TestTaskAdminRepo_Integration_List(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewPostgresTaskRepo(db)
		admin := NewTaskAdminRepo(db)
		ctx := context.Background()
		base := time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)

		armed := newStoredTask(t, "user-a", schedule.EveryDay(), schedule.MustTimeOfDay(9, 0))
		saveActivated(t, repo, armed, base.Add(time.Hour))

		cancelled := newStoredTask(t, "user-a", schedule.EveryDay(), schedule.MustTimeOfDay(9, 0))
		stored := saveActivated(t, repo, cancelled, base.Add(2*time.Hour))
		require.NoError(t, stored.Cancel("vacation over", base))
		_, err := repo.Save(ctx, stored)
		require.NoError(t, err)

		other := newStoredTask(t, "user-b", schedule.Weekdays(), schedule.MustTimeOfDay(7, 0))
		saveActivated(t, repo, other, base.Add(3*time.Hour))

		t.Run("unfiltered returns everything", func(t *testing.T) {
			tasks, listErr := admin.List(ctx, TaskListFilter{})
			require.NoError(t, listErr)
			assert.Len(t, tasks, 3)
		})

		t.Run("filters by status", func(t *testing.T) {
			tasks, listErr := admin.List(ctx, TaskListFilter{Status: model.StatusCancelled})
			require.NoError(t, listErr)
			require.Len(t, tasks, 1)
			assert.Equal(t, cancelled.ID, tasks[0].ID)
		})

		t.Run("filters by user", func(t *testing.T) {
			tasks, listErr := admin.List(ctx, TaskListFilter{UserID: "user-b"})
			require.NoError(t, listErr)
			require.Len(t, tasks, 1)
			assert.Equal(t, other.ID, tasks[0].ID)
		})

		t.Run("combines filters with limit", func(t *testing.T) {
			tasks, listErr := admin.List(ctx, TaskListFilter{UserID: "user-a", Limit: 1})
			require.NoError(t, listErr)
			assert.Len(t, tasks, 1)
		})

		t.Run("rejects unknown status", func(t *testing.T) {
			_, listErr := admin.List(ctx, TaskListFilter{Status: model.Status("BOGUS")})
			require.Error(t, listErr)
			assert.True(t, apperrors.IsValidation(listErr))
		})
	})
}

func TestTaskAdminRepo_Integration_Purge(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewPostgresTaskRepo(db)
		admin := NewTaskAdminRepo(db)
		ctx := context.Background()
		old := time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)

		retired := newStoredTask(t, "user-a", schedule.EveryDay(), schedule.MustTimeOfDay(9, 0))
		stored := saveActivated(t, repo, retired, old)
		require.NoError(t, stored.Cancel("moved out", old))
		_, err := repo.Save(ctx, stored)
		require.NoError(t, err)

		live := newStoredTask(t, "user-a", schedule.EveryDay(), schedule.MustTimeOfDay(9, 0))
		saveActivated(t, repo, live, old)

		purged, err := admin.Purge(ctx, PurgeFilter{Before: old.AddDate(0, 0, 30)})
		require.NoError(t, err)
		assert.Equal(t, int64(1), purged, "only the cancelled task is purgeable")

		exists, err := repo.Exists(ctx, retired.ID)
		require.NoError(t, err)
		assert.False(t, exists)

		exists, err = repo.Exists(ctx, live.ID)
		require.NoError(t, err)
		assert.True(t, exists, "active tasks survive a purge")

		t.Run("rejects live status", func(t *testing.T) {
			_, purgeErr := admin.Purge(ctx, PurgeFilter{
				Before:   time.Now(),
				Statuses: []model.Status{model.StatusActive},
			})
			require.Error(t, purgeErr)
			assert.True(t, apperrors.IsValidation(purgeErr))
		})

		t.Run("requires a cutoff", func(t *testing.T) {
			_, purgeErr := admin.Purge(ctx, PurgeFilter{})
			require.Error(t, purgeErr)
			assert.True(t, apperrors.IsValidation(purgeErr))
		})
	})
}
