package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"TuneSweep/model"
)

func newTestStore(t *testing.T) (*gormAnalysisStore, *gorm.DB) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// A second pooled connection would see its own empty in-memory database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gdb.AutoMigrate(&model.AnalysisRun{}, &model.PersistedGroup{}, &model.TrackSnapshot{}))
	return &gormAnalysisStore{db: gdb}, gdb
}

func testTrack(id int64, song string, plays int) *model.Track {
	return &model.Track{
		ID:        id,
		Song:      song,
		Artist:    "Artist X",
		PlayCount: plays,
		DateAdded: time.Date(2023, 1, int(id), 0, 0, 0, 0, time.UTC),
	}
}

func testGroup(canonical *model.Track, duplicates ...*model.Track) *model.DuplicateGroup {
	g := &model.DuplicateGroup{
		Canonical:       canonical,
		Duplicates:      duplicates,
		Scores:          make(map[int64]float64),
		CatalogMatches:  make(map[int64]model.CatalogMatch),
		SuggestedAction: model.KeepMostPlayed,
	}
	for _, d := range duplicates {
		g.Scores[d.ID] = 0.9
	}
	g.CatalogMatches[canonical.ID] = model.CatalogMatch{Found: true, MatchType: model.MatchExact, Confidence: 1.0}
	return g
}

func TestBeginAndLoadRun(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	run := model.NewAnalysisRun("alice", model.AnalysisParams{SearchTerm: "got", MinConfidence: 0.7})
	require.NoError(t, store.BeginRun(ctx, run))

	loaded, err := store.LoadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, loaded.Status)
	assert.Equal(t, "got", loaded.SearchTerm)

	_, err = store.LoadRun(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCompleteRunPersistsEverything(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	run := model.NewAnalysisRun("alice", model.AnalysisParams{})
	require.NoError(t, store.BeginRun(ctx, run))

	groups := []*model.DuplicateGroup{
		testGroup(testTrack(1, "I Got", 10), testTrack(2, "I Got - 2020 Remaster", 3), testTrack(3, "I Got (Radio Edit)", 1)),
		testGroup(testTrack(4, "Other Song", 5), testTrack(5, "Other Song (Live)", 2)),
	}
	stats := model.AnalysisStats{GroupsFound: 2, DuplicatesFound: 3, AvgSimilarity: 0.9, ProcessingMillis: 42}
	require.NoError(t, store.CompleteRun(ctx, run.ID, groups, stats))

	loaded, err := store.LoadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, loaded.Status)
	assert.Equal(t, 2, loaded.GroupsFound)
	assert.Equal(t, 3, loaded.DuplicatesFound)
	require.NotNil(t, loaded.CompletedAt)

	require.Len(t, loaded.Groups, 2)
	assert.Equal(t, 0, loaded.Groups[0].Position)
	assert.Equal(t, int64(1), loaded.Groups[0].CanonicalTrackID)
	assert.Equal(t, model.ResolutionUnresolved, loaded.Groups[0].Resolution)
	assert.True(t, loaded.Groups[0].HasCatalogMatch)

	snaps := loaded.Groups[0].Tracks
	require.Len(t, snaps, 3)
	assert.True(t, snaps[0].IsCanonical, "canonical snapshot first")
	assert.Equal(t, "I Got", snaps[0].Song)
	assert.True(t, snaps[0].StillExists)
	assert.Equal(t, 1.0, snaps[0].Similarity)
}

func TestCompleteRunRollsBackAndFails(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	run := model.NewAnalysisRun("alice", model.AnalysisParams{})
	require.NoError(t, store.BeginRun(ctx, run))

	store.completeHook = func(written int) error {
		if written == 1 {
			return errors.New("injected failure")
		}
		return nil
	}

	groups := []*model.DuplicateGroup{
		testGroup(testTrack(1, "A", 1), testTrack(2, "A (Live)", 0)),
		testGroup(testTrack(3, "B", 1), testTrack(4, "B (Live)", 0)),
	}
	err := store.CompleteRun(ctx, run.ID, groups, model.AnalysisStats{GroupsFound: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTransaction)

	loaded, err := store.LoadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, loaded.Status)
	assert.Empty(t, loaded.Groups, "partial groups must not survive the rollback")
	assert.Equal(t, model.CodeTransaction, loaded.ErrorCode)
}

func TestCompleteRunAbortedByCancellation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run := model.NewAnalysisRun("alice", model.AnalysisParams{})
	require.NoError(t, store.BeginRun(ctx, run))

	// Cancellation lands between the group writes, as when a caller aborts
	// while results are being saved.
	store.completeHook = func(written int) error {
		cancel()
		return ctx.Err()
	}

	groups := []*model.DuplicateGroup{
		testGroup(testTrack(1, "A", 1), testTrack(2, "A (Live)", 0)),
		testGroup(testTrack(3, "B", 1), testTrack(4, "B (Live)", 0)),
	}
	err := store.CompleteRun(ctx, run.ID, groups, model.AnalysisStats{GroupsFound: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled, "a dying context is not a transaction failure")

	// The store must not compensate to failed: the run stays running so the
	// engine can record the cancellation itself.
	loaded, err := store.LoadRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, loaded.Status)
	assert.Empty(t, loaded.Groups)

	require.NoError(t, store.CancelRun(context.Background(), run.ID))
	loaded, err = store.LoadRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, loaded.Status)
}

func TestTerminalTransitionsHappenOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	run := model.NewAnalysisRun("alice", model.AnalysisParams{})
	require.NoError(t, store.BeginRun(ctx, run))
	require.NoError(t, store.CancelRun(ctx, run.ID))

	assert.ErrorIs(t, store.CancelRun(ctx, run.ID), model.ErrNotFound)
	assert.ErrorIs(t, store.FailRun(ctx, run.ID, model.CodeTimeout, "late"), model.ErrNotFound)
	assert.ErrorIs(t, store.CompleteRun(ctx, run.ID, nil, model.AnalysisStats{}), model.ErrNotFound)

	loaded, err := store.LoadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, loaded.Status)
}

func TestLatestRunPicksNewestCompleted(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	old := model.NewAnalysisRun("alice", model.AnalysisParams{SearchTerm: "got"})
	old.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.BeginRun(ctx, old))
	require.NoError(t, store.CompleteRun(ctx, old.ID, nil, model.AnalysisStats{}))

	newer := model.NewAnalysisRun("alice", model.AnalysisParams{SearchTerm: "got"})
	require.NoError(t, store.BeginRun(ctx, newer))
	require.NoError(t, store.CompleteRun(ctx, newer.ID, nil, model.AnalysisStats{}))

	running := model.NewAnalysisRun("alice", model.AnalysisParams{})
	require.NoError(t, store.BeginRun(ctx, running))

	latest, err := store.LatestRun(ctx, "alice", "got")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, newer.ID, latest.ID)

	none, err := store.LatestRun(ctx, "bob", "")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestListRunsNewestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		run := model.NewAnalysisRun("alice", model.AnalysisParams{})
		run.CreatedAt = time.Now().Add(time.Duration(-i) * time.Hour)
		require.NoError(t, store.BeginRun(ctx, run))
	}

	runs, err := store.ListRuns(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].CreatedAt.After(runs[1].CreatedAt))
}

func TestMarkGroupsResolved(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	run := model.NewAnalysisRun("alice", model.AnalysisParams{})
	require.NoError(t, store.BeginRun(ctx, run))
	require.NoError(t, store.CompleteRun(ctx, run.ID,
		[]*model.DuplicateGroup{testGroup(testTrack(1, "A", 1), testTrack(2, "A (Live)", 0))},
		model.AnalysisStats{GroupsFound: 1}))

	loaded, err := store.LoadRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Groups, 1)

	require.NoError(t, store.MarkGroupsResolved(ctx, []int64{loaded.Groups[0].ID}, model.ResolutionManualReview))

	loaded, err = store.LoadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResolutionManualReview, loaded.Groups[0].Resolution)
	assert.NotNil(t, loaded.Groups[0].ResolvedAt)
}

func TestCleanupUnionPolicy(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Seven recent runs for alice: two beyond the keep-count of five.
	for i := 0; i < 7; i++ {
		run := model.NewAnalysisRun("alice", model.AnalysisParams{})
		run.CreatedAt = time.Now().Add(time.Duration(-i) * time.Hour)
		require.NoError(t, store.BeginRun(ctx, run))
		require.NoError(t, store.CompleteRun(ctx, run.ID,
			[]*model.DuplicateGroup{testGroup(testTrack(int64(i*10+1), "A", 1), testTrack(int64(i*10+2), "A (Live)", 0))},
			model.AnalysisStats{GroupsFound: 1}))
	}
	// One ancient run for bob: caught by the age condition.
	ancient := model.NewAnalysisRun("bob", model.AnalysisParams{})
	ancient.CreatedAt = time.Now().AddDate(0, 0, -90)
	require.NoError(t, store.BeginRun(ctx, ancient))

	result, err := store.Cleanup(ctx, 30, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RunsDeleted, "two surplus for alice plus one aged for bob")
	assert.Equal(t, 2, result.GroupsDeleted)
	assert.Len(t, result.DeletedRunIDs, 3)
	assert.Contains(t, result.DeletedRunIDs, ancient.ID)

	_, err = store.LoadRun(ctx, ancient.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	// Re-running is a no-op.
	again, err := store.Cleanup(ctx, 30, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, again.RunsDeleted)

	runs, err := store.ListRuns(ctx, "alice", 100)
	require.NoError(t, err)
	assert.Len(t, runs, 5)

	// Snapshots of deleted runs are gone too.
	var orphanSnapshots int64
	require.NoError(t, store.db.Model(&model.TrackSnapshot{}).Count(&orphanSnapshots).Error)
	assert.Equal(t, int64(10), orphanSnapshots, fmt.Sprintf("five surviving groups with two snapshots each, got %d", orphanSnapshots))
}
