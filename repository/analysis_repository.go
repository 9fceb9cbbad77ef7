package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"TuneSweep/logger"
	"TuneSweep/model"
)

// AnalysisStore persists analysis runs with their duplicate groups and track
// snapshots, and implements the retention policy.
type AnalysisStore interface {
	BeginRun(ctx context.Context, run *model.AnalysisRun) error
	CompleteRun(ctx context.Context, runID string, groups []*model.DuplicateGroup, stats model.AnalysisStats) error
	FailRun(ctx context.Context, runID, code, message string) error
	CancelRun(ctx context.Context, runID string) error
	LoadRun(ctx context.Context, runID string) (*model.AnalysisRun, error)
	LatestRun(ctx context.Context, owner, searchTerm string) (*model.AnalysisRun, error)
	ListRuns(ctx context.Context, owner string, limit int) ([]*model.AnalysisRun, error)
	MarkGroupsResolved(ctx context.Context, groupIDs []int64, status model.ResolutionStatus) error
	Cleanup(ctx context.Context, retentionDays, maxPerOwner int) (*model.CleanupResult, error)
}

// gormAnalysisStore GORM 实现
type gormAnalysisStore struct {
	db *gorm.DB

	// completeHook runs between group writes inside CompleteRun's transaction.
	// Only tests set it, to force mid-transaction failures.
	completeHook func(written int) error
}

// NewGormAnalysisStore creates the GORM-backed analysis store.
func NewGormAnalysisStore(db *gorm.DB) AnalysisStore {
	return &gormAnalysisStore{db: db}
}

// BeginRun inserts the run in the running state.
func (s *gormAnalysisStore) BeginRun(ctx context.Context, run *model.AnalysisRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("%w: begin run: %v", model.ErrTransaction, err)
	}
	return nil
}

// CompleteRun writes the run summary plus every group and snapshot in one
// transaction. On any failure the whole write rolls back and the run is
// marked failed; a reader never sees a partially populated run.
func (s *gormAnalysisStore) CompleteRun(ctx context.Context, runID string, groups []*model.DuplicateGroup, stats model.AnalysisStats) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.AnalysisRun{}).
			Where("id = ? AND status = ?", runID, model.RunStatusRunning).
			Updates(map[string]interface{}{
				"status":            model.RunStatusCompleted,
				"groups_found":      stats.GroupsFound,
				"duplicates_found":  stats.DuplicatesFound,
				"avg_similarity":    stats.AvgSimilarity,
				"processing_millis": stats.ProcessingMillis,
				"completed_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("run %s is not running: %w", runID, model.ErrNotFound)
		}

		for i, g := range groups {
			persisted, err := persistedGroupFrom(runID, i, g)
			if err != nil {
				return err
			}
			if err := tx.Create(persisted).Error; err != nil {
				return err
			}
			if s.completeHook != nil {
				if err := s.completeHook(i + 1); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return err
		}
		// The run context dying mid-write is not a storage failure: the run
		// stays running and the caller maps it to cancelled or timed out.
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("complete run %s aborted: %w", runID, cerr)
		}
		logger.Error("complete_run transaction failed, marking run failed",
			logger.String("runId", runID), logger.ErrorField(err))
		// Compensate on a detached context; reusing ctx here could lose the
		// terminal write to the same condition that broke the transaction.
		failCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if failErr := s.FailRun(failCtx, runID, model.CodeTransaction, err.Error()); failErr != nil {
			logger.Error("failed to mark run failed", logger.String("runId", runID), logger.ErrorField(failErr))
		}
		return fmt.Errorf("%w: complete run: %v", model.ErrTransaction, err)
	}
	return nil
}

// persistedGroupFrom flattens a transient group into its storable form,
// snapshots included.
func persistedGroupFrom(runID string, position int, g *model.DuplicateGroup) (*model.PersistedGroup, error) {
	hasMatch := false
	for _, m := range g.CatalogMatches {
		if m.Found {
			hasMatch = true
			break
		}
	}
	matchPayload := ""
	if len(g.CatalogMatches) > 0 {
		raw, err := json.Marshal(g.CatalogMatches)
		if err != nil {
			return nil, fmt.Errorf("marshal catalog matches: %w", err)
		}
		matchPayload = string(raw)
	}

	persisted := &model.PersistedGroup{
		RunID:            runID,
		Position:         position,
		CanonicalTrackID: g.Canonical.ID,
		DuplicateCount:   len(g.Duplicates),
		AvgSimilarity:    g.AvgScore(),
		SuggestedAction:  string(g.SuggestedAction),
		HasCatalogMatch:  hasMatch,
		CatalogMatchJSON: matchPayload,
		Resolution:       model.ResolutionUnresolved,
	}

	persisted.Tracks = append(persisted.Tracks, snapshotFrom(g.Canonical, 1.0, true, g.CatalogMatches))
	for _, d := range g.Duplicates {
		persisted.Tracks = append(persisted.Tracks, snapshotFrom(d, g.Scores[d.ID], false, g.CatalogMatches))
	}
	return persisted, nil
}

func snapshotFrom(t *model.Track, score float64, canonical bool, matches map[int64]model.CatalogMatch) model.TrackSnapshot {
	snap := model.TrackSnapshot{
		TrackID:     t.ID,
		Song:        t.Song,
		Artist:      t.Artist,
		Album:       t.Album,
		PlayCount:   t.PlayCount,
		LastPlayed:  t.LastPlayed,
		DateAdded:   t.DateAdded,
		Similarity:  score,
		IsCanonical: canonical,
		StillExists: true,
	}
	if m, ok := matches[t.ID]; ok {
		snap.CatalogFound = m.Found
		snap.CatalogType = string(m.MatchType)
		snap.CatalogScore = m.Confidence
	}
	return snap
}

// terminate moves a running run to a terminal status exactly once.
func (s *gormAnalysisStore) terminate(ctx context.Context, runID string, status model.RunStatus, updates map[string]interface{}) error {
	updates["status"] = status
	updates["completed_at"] = time.Now()
	res := s.db.WithContext(ctx).Model(&model.AnalysisRun{}).
		Where("id = ? AND status = ?", runID, model.RunStatusRunning).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("%w: terminate run: %v", model.ErrTransaction, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run %s is not running: %w", runID, model.ErrNotFound)
	}
	return nil
}

// FailRun marks the run failed with an error code and message.
func (s *gormAnalysisStore) FailRun(ctx context.Context, runID, code, message string) error {
	return s.terminate(ctx, runID, model.RunStatusFailed, map[string]interface{}{
		"error_code":    code,
		"error_message": message,
	})
}

// CancelRun marks the run cancelled. Partial results are never persisted.
func (s *gormAnalysisStore) CancelRun(ctx context.Context, runID string) error {
	return s.terminate(ctx, runID, model.RunStatusCancelled, map[string]interface{}{})
}

// LoadRun returns the run with groups and snapshots, ordered by position.
func (s *gormAnalysisStore) LoadRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	var run model.AnalysisRun
	err := s.db.WithContext(ctx).
		Preload("Groups", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Groups.Tracks", func(db *gorm.DB) *gorm.DB { return db.Order("is_canonical DESC, track_id ASC") }).
		First(&run, "id = ?", runID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return &run, nil
}

// LatestRun returns the newest completed run for the owner, optionally
// restricted to a search term. Returns nil, nil when none exists.
func (s *gormAnalysisStore) LatestRun(ctx context.Context, owner, searchTerm string) (*model.AnalysisRun, error) {
	q := s.db.WithContext(ctx).
		Preload("Groups", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Groups.Tracks", func(db *gorm.DB) *gorm.DB { return db.Order("is_canonical DESC, track_id ASC") }).
		Where("owner = ? AND status = ?", owner, model.RunStatusCompleted)
	if searchTerm != "" {
		q = q.Where("search_term = ?", searchTerm)
	}
	var run model.AnalysisRun
	err := q.Order("created_at DESC").First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest run for %q: %w", owner, err)
	}
	return &run, nil
}

// ListRuns returns run summaries (no children) for the owner, newest first.
func (s *gormAnalysisStore) ListRuns(ctx context.Context, owner string, limit int) ([]*model.AnalysisRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []*model.AnalysisRun
	err := s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list runs for %q: %w", owner, err)
	}
	return runs, nil
}

// MarkGroupsResolved stamps the resolution outcome on the given groups.
func (s *gormAnalysisStore) MarkGroupsResolved(ctx context.Context, groupIDs []int64, status model.ResolutionStatus) error {
	if len(groupIDs) == 0 {
		return nil
	}
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&model.PersistedGroup{}).
		Where("id IN ?", groupIDs).
		Updates(map[string]interface{}{"resolution": status, "resolved_at": now}).Error
	if err != nil {
		return fmt.Errorf("%w: mark groups resolved: %v", model.ErrTransaction, err)
	}
	return nil
}

// Cleanup deletes the union of runs older than retentionDays and runs ranked
// beyond the maxPerOwner most-recent per owner. Children are removed in the
// same transaction, so re-running is idempotent.
func (s *gormAnalysisStore) Cleanup(ctx context.Context, retentionDays, maxPerOwner int) (*model.CleanupResult, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	doomed := make(map[string]bool)

	var aged []string
	if err := s.db.WithContext(ctx).Model(&model.AnalysisRun{}).
		Where("created_at < ?", cutoff).
		Pluck("id", &aged).Error; err != nil {
		return nil, fmt.Errorf("cleanup: find aged runs: %w", err)
	}
	for _, id := range aged {
		doomed[id] = true
	}

	var owners []string
	if err := s.db.WithContext(ctx).Model(&model.AnalysisRun{}).
		Distinct("owner").Pluck("owner", &owners).Error; err != nil {
		return nil, fmt.Errorf("cleanup: list owners: %w", err)
	}
	for _, owner := range owners {
		var surplus []string
		if err := s.db.WithContext(ctx).Model(&model.AnalysisRun{}).
			Where("owner = ?", owner).
			Order("created_at DESC").
			Offset(maxPerOwner).Limit(-1).
			Pluck("id", &surplus).Error; err != nil {
			return nil, fmt.Errorf("cleanup: rank runs for %q: %w", owner, err)
		}
		for _, id := range surplus {
			doomed[id] = true
		}
	}

	if len(doomed) == 0 {
		return &model.CleanupResult{}, nil
	}
	ids := make([]string, 0, len(doomed))
	for id := range doomed {
		ids = append(ids, id)
	}

	result := &model.CleanupResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var groupIDs []int64
		if err := tx.Model(&model.PersistedGroup{}).
			Where("run_id IN ?", ids).
			Pluck("id", &groupIDs).Error; err != nil {
			return err
		}
		if len(groupIDs) > 0 {
			if err := tx.Where("group_id IN ?", groupIDs).Delete(&model.TrackSnapshot{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", groupIDs).Delete(&model.PersistedGroup{}).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id IN ?", ids).Delete(&model.AnalysisRun{})
		if res.Error != nil {
			return res.Error
		}
		result.RunsDeleted = int(res.RowsAffected)
		result.GroupsDeleted = len(groupIDs)
		result.DeletedRunIDs = ids
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: cleanup: %v", model.ErrTransaction, err)
	}

	logger.Info("retention cleanup done",
		logger.Int("runsDeleted", result.RunsDeleted),
		logger.Int("groupsDeleted", result.GroupsDeleted))
	return result, nil
}
