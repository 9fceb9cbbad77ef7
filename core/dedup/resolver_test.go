package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"TuneSweep/model"
)

type recordingAudit struct {
	entries []*model.AuditEntry
}

func (r *recordingAudit) Record(ctx context.Context, entry *model.AuditEntry) {
	r.entries = append(r.entries, entry)
}

func (r *recordingAudit) Recent(ctx context.Context, limit int) ([]*model.AuditEntry, error) {
	return r.entries, nil
}

func newResolverDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gdb.AutoMigrate(&model.AnalysisRun{}, &model.PersistedGroup{}, &model.TrackSnapshot{}))
	require.NoError(t, gdb.Exec(`CREATE TABLE tracks (
		id INTEGER PRIMARY KEY,
		song TEXT NOT NULL,
		artist TEXT,
		album TEXT,
		play_count INTEGER NOT NULL DEFAULT 0,
		last_played DATETIME,
		date_added DATETIME,
		category TEXT
	)`).Error)
	return gdb
}

func insertTrack(t *testing.T, gdb *gorm.DB, id int64, song string, plays int) {
	t.Helper()
	require.NoError(t, gdb.Exec(
		`INSERT INTO tracks (id, song, artist, play_count, date_added) VALUES (?, ?, ?, ?, ?)`,
		id, song, "Artist X", plays, time.Date(2023, 1, int(id%28)+1, 0, 0, 0, 0, time.UTC),
	).Error)
}

func trackExists(t *testing.T, gdb *gorm.DB, id int64) bool {
	t.Helper()
	var n int64
	require.NoError(t, gdb.Raw(`SELECT COUNT(*) FROM tracks WHERE id = ?`, id).Scan(&n).Error)
	return n > 0
}

type snapshotSpec struct {
	trackID   int64
	song      string
	plays     int
	canonical bool
	catalog   string // empty, "exact" or "fuzzy"
}

func seedGroup(t *testing.T, gdb *gorm.DB, runID string, specs ...snapshotSpec) *model.PersistedGroup {
	t.Helper()
	group := &model.PersistedGroup{
		RunID:           runID,
		Resolution:      model.ResolutionUnresolved,
		SuggestedAction: string(model.KeepMostPlayed),
	}
	for _, s := range specs {
		if s.canonical {
			group.CanonicalTrackID = s.trackID
		}
		group.Tracks = append(group.Tracks, model.TrackSnapshot{
			TrackID:      s.trackID,
			Song:         s.song,
			Artist:       "Artist X",
			PlayCount:    s.plays,
			DateAdded:    time.Date(2023, 1, int(s.trackID%28)+1, 0, 0, 0, 0, time.UTC),
			Similarity:   0.9,
			IsCanonical:  s.canonical,
			CatalogFound: s.catalog != "",
			CatalogType:  s.catalog,
			CatalogScore: 1.0,
			StillExists:  true,
		})
		insertTrack(t, gdb, s.trackID, s.song, s.plays)
	}
	group.DuplicateCount = len(specs) - 1
	require.NoError(t, gdb.Create(group).Error)
	return group
}

func seedRun(t *testing.T, gdb *gorm.DB) *model.AnalysisRun {
	t.Helper()
	run := model.NewAnalysisRun("alice", model.AnalysisParams{})
	run.Status = model.RunStatusCompleted
	require.NoError(t, gdb.Create(run).Error)
	return run
}

func TestDeleteOne(t *testing.T) {
	gdb := newResolverDB(t)
	audit := &recordingAudit{}
	resolver := NewResolver(gdb, audit)
	run := seedRun(t, gdb)
	group := seedGroup(t, gdb, run.ID,
		snapshotSpec{trackID: 1, song: "I Got", plays: 10, canonical: true},
		snapshotSpec{trackID: 2, song: "I Got (Live)", plays: 1},
	)

	result, err := resolver.DeleteOne(context.Background(), "alice", 2)
	require.NoError(t, err)
	assert.True(t, result.Deleted)
	assert.False(t, trackExists(t, gdb, 2))
	assert.True(t, trackExists(t, gdb, 1))

	var snap model.TrackSnapshot
	require.NoError(t, gdb.First(&snap, "track_id = ?", 2).Error)
	assert.False(t, snap.StillExists)
	assert.NotNil(t, snap.DeletedAt)

	var reloaded model.PersistedGroup
	require.NoError(t, gdb.First(&reloaded, group.ID).Error)
	assert.Equal(t, model.ResolutionDeleted, reloaded.Resolution, "all duplicates gone resolves the group")

	require.Len(t, audit.entries, 1)
	assert.Equal(t, model.AuditDeleteTrack, audit.entries[0].ActionType)
	assert.True(t, audit.entries[0].Success)
}

func TestDeleteOneUnknownTrack(t *testing.T) {
	gdb := newResolverDB(t)
	resolver := NewResolver(gdb, &recordingAudit{})

	result, err := resolver.DeleteOne(context.Background(), "alice", 999)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.False(t, result.Deleted)
	assert.NotEmpty(t, result.Error)
}

func TestBulkDeletePartialFailure(t *testing.T) {
	gdb := newResolverDB(t)
	resolver := NewResolver(gdb, &recordingAudit{})
	insertTrack(t, gdb, 1, "Song A", 1)
	insertTrack(t, gdb, 2, "Song B", 1)

	result, err := resolver.BulkDelete(context.Background(), "alice", []int64{1, 999, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, result.DeletedCount)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, int64(999), result.Failures[0].TrackID)

	// The failing item did not abort the committed ones.
	assert.False(t, trackExists(t, gdb, 1))
	assert.False(t, trackExists(t, gdb, 2))
}

func TestSmartDeleteKeepMostPlayed(t *testing.T) {
	gdb := newResolverDB(t)
	resolver := NewResolver(gdb, &recordingAudit{})
	run := seedRun(t, gdb)
	group := seedGroup(t, gdb, run.ID,
		snapshotSpec{trackID: 1, song: "I Got", plays: 10, canonical: true},
		snapshotSpec{trackID: 2, song: "I Got - 2020 Remaster", plays: 3},
		snapshotSpec{trackID: 3, song: "I Got (Radio Edit)", plays: 1},
	)

	result, err := resolver.SmartDelete(context.Background(), "alice", run.ID, model.KeepMostPlayed)
	require.NoError(t, err)
	assert.Equal(t, 1, result.GroupsProcessed)
	assert.Equal(t, 2, result.TracksDeleted)
	assert.Equal(t, 1, result.TracksKept)
	assert.Empty(t, result.Failures)

	assert.True(t, trackExists(t, gdb, 1))
	assert.False(t, trackExists(t, gdb, 2))
	assert.False(t, trackExists(t, gdb, 3))

	var reloaded model.PersistedGroup
	require.NoError(t, gdb.First(&reloaded, group.ID).Error)
	assert.Equal(t, model.ResolutionKeptCanonical, reloaded.Resolution)
	assert.NotNil(t, reloaded.ResolvedAt)
}

func TestSmartDeleteKeepShortestTitle(t *testing.T) {
	gdb := newResolverDB(t)
	resolver := NewResolver(gdb, &recordingAudit{})
	run := seedRun(t, gdb)
	seedGroup(t, gdb, run.ID,
		snapshotSpec{trackID: 1, song: "Song Name (Extended Mix)", plays: 9, canonical: true},
		snapshotSpec{trackID: 2, song: "Song Name", plays: 1},
	)

	result, err := resolver.SmartDelete(context.Background(), "alice", run.ID, model.KeepShortestTitle)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TracksDeleted)

	assert.False(t, trackExists(t, gdb, 1))
	assert.True(t, trackExists(t, gdb, 2), "shortest normalized title survives")
}

func TestSmartDeleteKeepCatalogVersion(t *testing.T) {
	gdb := newResolverDB(t)
	resolver := NewResolver(gdb, &recordingAudit{})
	run := seedRun(t, gdb)
	seedGroup(t, gdb, run.ID,
		snapshotSpec{trackID: 1, song: "Tune", plays: 50, canonical: true},
		snapshotSpec{trackID: 2, song: "Tune (Single Version)", plays: 1, catalog: "exact"},
	)

	result, err := resolver.SmartDelete(context.Background(), "alice", run.ID, model.KeepCatalogVersion)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TracksDeleted)

	assert.False(t, trackExists(t, gdb, 1))
	assert.True(t, trackExists(t, gdb, 2), "exact catalog match beats play count")
}

func TestSmartDeleteKeepCatalogVersionFallsBack(t *testing.T) {
	gdb := newResolverDB(t)
	resolver := NewResolver(gdb, &recordingAudit{})
	run := seedRun(t, gdb)
	seedGroup(t, gdb, run.ID,
		snapshotSpec{trackID: 1, song: "Tune", plays: 50, canonical: true},
		snapshotSpec{trackID: 2, song: "Tune (Single Version)", plays: 1, catalog: "fuzzy"},
	)

	_, err := resolver.SmartDelete(context.Background(), "alice", run.ID, model.KeepCatalogVersion)
	require.NoError(t, err)

	assert.True(t, trackExists(t, gdb, 1), "no exact match falls back to most played")
	assert.False(t, trackExists(t, gdb, 2))
}

func TestSmartDeleteInvalidStrategy(t *testing.T) {
	gdb := newResolverDB(t)
	resolver := NewResolver(gdb, &recordingAudit{})

	_, err := resolver.SmartDelete(context.Background(), "alice", "run-x", "keep_everything")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestSmartDeleteSkipsResolvedGroups(t *testing.T) {
	gdb := newResolverDB(t)
	resolver := NewResolver(gdb, &recordingAudit{})
	run := seedRun(t, gdb)
	group := seedGroup(t, gdb, run.ID,
		snapshotSpec{trackID: 1, song: "Done Deal", plays: 5, canonical: true},
		snapshotSpec{trackID: 2, song: "Done Deal (Demo)", plays: 1},
	)
	require.NoError(t, gdb.Model(group).Update("resolution", model.ResolutionDeleted).Error)

	result, err := resolver.SmartDelete(context.Background(), "alice", run.ID, model.KeepMostPlayed)
	require.NoError(t, err)
	assert.Equal(t, 0, result.GroupsProcessed)
	assert.True(t, trackExists(t, gdb, 1))
	assert.True(t, trackExists(t, gdb, 2))
}
