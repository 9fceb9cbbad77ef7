package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"TuneSweep/core/similarity"
	"TuneSweep/logger"
	"TuneSweep/model"
	"TuneSweep/repository"
)

// Resolver executes track deletions against the live catalog. Every deletion
// runs in one transaction covering the track row, its snapshots and the owning
// groups' resolution state, so a failure never leaves a half-deleted track.
type Resolver struct {
	db    *gorm.DB
	audit repository.AuditRepository
}

// NewResolver creates the deletion executor.
func NewResolver(db *gorm.DB, audit repository.AuditRepository) *Resolver {
	return &Resolver{db: db, audit: audit}
}

// DeleteOne deletes a single track. Unknown ids report failure without side
// effects.
func (r *Resolver) DeleteOne(ctx context.Context, actor string, trackID int64) (*model.DeleteResult, error) {
	result := &model.DeleteResult{TrackID: trackID}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.deleteTrackTx(tx, trackID, time.Now())
	})
	if err != nil {
		result.Error = err.Error()
		r.recordAudit(ctx, model.AuditDeleteTrack, actor, joinIDs([]int64{trackID}), false, err.Error())
		if errors.Is(err, model.ErrNotFound) {
			return result, err
		}
		return result, fmt.Errorf("%w: delete track %d: %v", model.ErrTransaction, trackID, err)
	}
	result.Deleted = true
	r.recordAudit(ctx, model.AuditDeleteTrack, actor, joinIDs([]int64{trackID}), true, "")
	return result, nil
}

// BulkDelete deletes each track independently. A failing item is reported in
// Failures and never aborts the batch; committed items stay committed.
func (r *Resolver) BulkDelete(ctx context.Context, actor string, trackIDs []int64) (*model.BulkDeleteResult, error) {
	result := &model.BulkDeleteResult{Failures: make([]model.DeleteResult, 0)}
	for _, id := range trackIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return r.deleteTrackTx(tx, id, time.Now())
		})
		if err != nil {
			result.Failures = append(result.Failures, model.DeleteResult{TrackID: id, Error: err.Error()})
			continue
		}
		result.DeletedCount++
	}
	r.recordAudit(ctx, model.AuditBulkDelete, actor, joinIDs(trackIDs), len(result.Failures) == 0, "")
	logger.Info("bulk delete finished",
		logger.String("actor", actor),
		logger.Int("requested", len(trackIDs)),
		logger.Int("deleted", result.DeletedCount),
		logger.Int("failed", len(result.Failures)))
	return result, nil
}

// SmartDelete applies a keeper-selection strategy to every unresolved group of
// a run, deleting everything but the keeper. Groups are processed
// independently: one group's failure rolls back that group only.
func (r *Resolver) SmartDelete(ctx context.Context, actor, runID string, strategy model.DeleteStrategy) (*model.SmartDeleteResult, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown delete strategy %q", model.ErrValidation, strategy)
	}

	var groups []*model.PersistedGroup
	err := r.db.WithContext(ctx).
		Preload("Tracks").
		Where("run_id = ? AND resolution = ?", runID, model.ResolutionUnresolved).
		Order("position ASC").
		Find(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("load groups for run %s: %w", runID, err)
	}

	result := &model.SmartDeleteResult{Failures: make([]model.DeleteResult, 0)}
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		living := livingSnapshots(group)
		if len(living) < 2 {
			continue
		}
		keeper := selectKeeper(strategy, group, living)

		deleted, err := r.resolveGroupTx(ctx, group, keeper)
		result.GroupsProcessed++
		if err != nil {
			for _, s := range living {
				if s.TrackID != keeper.TrackID {
					result.Failures = append(result.Failures, model.DeleteResult{TrackID: s.TrackID, Error: err.Error()})
				}
			}
			continue
		}
		result.TracksDeleted += deleted
		result.TracksKept++
	}

	r.recordAudit(ctx, model.AuditSmartDelete, actor,
		fmt.Sprintf("run=%s strategy=%s", runID, strategy), len(result.Failures) == 0, "")
	logger.Info("smart delete finished",
		logger.String("runId", runID),
		logger.String("strategy", string(strategy)),
		logger.Int("groupsProcessed", result.GroupsProcessed),
		logger.Int("tracksDeleted", result.TracksDeleted),
		logger.Int("failures", len(result.Failures)))
	return result, nil
}

// deleteTrackTx is the transactional body of a single-track deletion: a
// conditional delete with a rows-affected check, then snapshot and group
// resolution updates for every group referencing the track.
func (r *Resolver) deleteTrackTx(tx *gorm.DB, trackID int64, now time.Time) error {
	res := tx.Exec(`DELETE FROM tracks WHERE id = ?`, trackID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("track %d: %w", trackID, model.ErrNotFound)
	}

	var groupIDs []int64
	if err := tx.Model(&model.TrackSnapshot{}).
		Where("track_id = ? AND still_exists = ?", trackID, true).
		Pluck("group_id", &groupIDs).Error; err != nil {
		return err
	}

	if err := tx.Model(&model.TrackSnapshot{}).
		Where("track_id = ? AND still_exists = ?", trackID, true).
		Updates(map[string]interface{}{"still_exists": false, "deleted_at": now}).Error; err != nil {
		return err
	}

	for _, gid := range groupIDs {
		if err := refreshGroupResolution(tx, gid, now); err != nil {
			return err
		}
	}
	return nil
}

// refreshGroupResolution marks a group resolved once none of its duplicate
// snapshots still exist. A group whose canonical was deleted goes to manual
// review instead.
func refreshGroupResolution(tx *gorm.DB, groupID int64, now time.Time) error {
	var canonicalGone int64
	if err := tx.Model(&model.TrackSnapshot{}).
		Where("group_id = ? AND is_canonical = ? AND still_exists = ?", groupID, true, false).
		Count(&canonicalGone).Error; err != nil {
		return err
	}
	var livingDuplicates int64
	if err := tx.Model(&model.TrackSnapshot{}).
		Where("group_id = ? AND is_canonical = ? AND still_exists = ?", groupID, false, true).
		Count(&livingDuplicates).Error; err != nil {
		return err
	}

	var status model.ResolutionStatus
	switch {
	case canonicalGone > 0:
		status = model.ResolutionManualReview
	case livingDuplicates == 0:
		status = model.ResolutionDeleted
	default:
		return nil
	}
	return tx.Model(&model.PersistedGroup{}).
		Where("id = ? AND resolution = ?", groupID, model.ResolutionUnresolved).
		Updates(map[string]interface{}{"resolution": status, "resolved_at": now}).Error
}

// resolveGroupTx deletes every living member except the keeper and stamps the
// group's resolution, all in one transaction. Returns the number of deleted
// tracks.
func (r *Resolver) resolveGroupTx(ctx context.Context, group *model.PersistedGroup, keeper *model.TrackSnapshot) (int, error) {
	deleted := 0
	now := time.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range group.Tracks {
			s := &group.Tracks[i]
			if !s.StillExists || s.TrackID == keeper.TrackID {
				continue
			}
			res := tx.Exec(`DELETE FROM tracks WHERE id = ?`, s.TrackID)
			if res.Error != nil {
				return res.Error
			}
			// Zero rows means the track vanished outside this run; the
			// snapshot is still stamped, but nothing was deleted here.
			if res.RowsAffected > 0 {
				deleted++
			}
			if err := tx.Model(&model.TrackSnapshot{}).
				Where("id = ?", s.ID).
				Updates(map[string]interface{}{"still_exists": false, "deleted_at": now}).Error; err != nil {
				return err
			}
		}

		status := model.ResolutionDeleted
		if keeper.IsCanonical {
			status = model.ResolutionKeptCanonical
		}
		return tx.Model(&model.PersistedGroup{}).
			Where("id = ?", group.ID).
			Updates(map[string]interface{}{"resolution": status, "resolved_at": now}).Error
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func livingSnapshots(group *model.PersistedGroup) []*model.TrackSnapshot {
	living := make([]*model.TrackSnapshot, 0, len(group.Tracks))
	for i := range group.Tracks {
		if group.Tracks[i].StillExists {
			living = append(living, &group.Tracks[i])
		}
	}
	return living
}

// selectKeeper picks the surviving track of a group. Strategies are pure and
// deterministic: equal inputs always keep the same track.
func selectKeeper(strategy model.DeleteStrategy, group *model.PersistedGroup, living []*model.TrackSnapshot) *model.TrackSnapshot {
	canonical := canonicalSnapshot(group, living)
	switch strategy {
	case model.KeepCanonical:
		return canonical
	case model.KeepMostPlayed:
		return keepMostPlayed(living, canonical)
	case model.KeepCatalogVersion:
		return keepCatalogVersion(living, canonical)
	case model.KeepShortestTitle:
		return keepShortestTitle(living)
	}
	return canonical
}

func canonicalSnapshot(group *model.PersistedGroup, living []*model.TrackSnapshot) *model.TrackSnapshot {
	for _, s := range living {
		if s.IsCanonical {
			return s
		}
	}
	// Canonical already gone; fall back to the lowest id so the choice
	// stays deterministic.
	best := living[0]
	for _, s := range living[1:] {
		if s.TrackID < best.TrackID {
			best = s
		}
	}
	return best
}

// keepMostPlayed keeps the highest play count; when the canonical ties for the
// maximum it wins.
func keepMostPlayed(living []*model.TrackSnapshot, canonical *model.TrackSnapshot) *model.TrackSnapshot {
	maxPlays := living[0].PlayCount
	for _, s := range living[1:] {
		if s.PlayCount > maxPlays {
			maxPlays = s.PlayCount
		}
	}
	if canonical.PlayCount == maxPlays {
		return canonical
	}
	best := (*model.TrackSnapshot)(nil)
	for _, s := range living {
		if s.PlayCount != maxPlays {
			continue
		}
		if best == nil || s.DateAdded.Before(best.DateAdded) ||
			(s.DateAdded.Equal(best.DateAdded) && s.TrackID < best.TrackID) {
			best = s
		}
	}
	return best
}

// keepCatalogVersion prefers a track matched exactly in the external catalog,
// highest catalog confidence first. Without an exact match it falls back to
// keepMostPlayed.
func keepCatalogVersion(living []*model.TrackSnapshot, canonical *model.TrackSnapshot) *model.TrackSnapshot {
	var best *model.TrackSnapshot
	for _, s := range living {
		if !s.CatalogFound || s.CatalogType != string(model.MatchExact) {
			continue
		}
		if best == nil || s.CatalogScore > best.CatalogScore ||
			(s.CatalogScore == best.CatalogScore && s.TrackID < best.TrackID) {
			best = s
		}
	}
	if best != nil {
		return best
	}
	return keepMostPlayed(living, canonical)
}

// keepShortestTitle keeps the fewest characters after normalization.
func keepShortestTitle(living []*model.TrackSnapshot) *model.TrackSnapshot {
	best := living[0]
	bestLen := len([]rune(similarity.Normalize(best.Song)))
	for _, s := range living[1:] {
		l := len([]rune(similarity.Normalize(s.Song)))
		if l < bestLen || (l == bestLen && s.TrackID < best.TrackID) {
			best, bestLen = s, l
		}
	}
	return best
}

func (r *Resolver) recordAudit(ctx context.Context, action, actor, targets string, success bool, errMsg string) {
	if r.audit == nil {
		return
	}
	r.audit.Record(ctx, &model.AuditEntry{
		ActionType: action,
		Actor:      actor,
		TargetIDs:  targets,
		Success:    success,
		Error:      errMsg,
	})
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}
