package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"TuneSweep/config"
	"TuneSweep/core/progress"
	"TuneSweep/logger"
	"TuneSweep/model"
	"TuneSweep/repository"
)

// Archiver stores finished export payloads in object storage. Archival is
// best-effort; a failure never fails the export itself.
type Archiver interface {
	Store(ctx context.Context, objectName string, payload []byte, contentType string) error
}

// ProgressCache reads and removes progress records mirrored by other
// instances, so any instance can serve polls for a run it does not own.
// Best-effort, like the mirror that feeds it.
type ProgressCache interface {
	GetProgress(ctx context.Context, runID string) (*model.AnalysisProgress, error)
	DeleteProgress(ctx context.Context, runID string) error
}

// RunView pairs a persisted run with its staleness classification at read time.
type RunView struct {
	Run       *model.AnalysisRun `json:"run"`
	Staleness model.Staleness    `json:"staleness"`
}

// Analyzer is the engine facade. Analyze launches one goroutine per run; every
// other method is a synchronous read or a small transactional write.
type Analyzer struct {
	cfg      config.AnalyzerConfig
	tracks   repository.TrackRepository
	store    repository.AnalysisStore
	finder   *Finder
	crossref *CrossReferencer
	resolver *Resolver
	tracker  *progress.Tracker
	audit    repository.AuditRepository
	archive  Archiver
	mirror   ProgressCache

	wg sync.WaitGroup
}

// NewAnalyzer wires the engine. archive and mirror may be nil when export
// archival or the shared progress cache are disabled.
func NewAnalyzer(
	cfg config.AnalyzerConfig,
	tracks repository.TrackRepository,
	store repository.AnalysisStore,
	finder *Finder,
	crossref *CrossReferencer,
	resolver *Resolver,
	tracker *progress.Tracker,
	audit repository.AuditRepository,
	archive Archiver,
	mirror ProgressCache,
) *Analyzer {
	return &Analyzer{
		cfg:      cfg,
		tracks:   tracks,
		store:    store,
		finder:   finder,
		crossref: crossref,
		resolver: resolver,
		tracker:  tracker,
		audit:    audit,
		archive:  archive,
		mirror:   mirror,
	}
}

// Resolver exposes the deletion executor behind the facade.
func (a *Analyzer) Resolver() *Resolver { return a.resolver }

// Analyze validates the parameters, persists a running run and launches the
// pipeline on its own goroutine. Returns the run id immediately; callers poll
// Progress for completion.
func (a *Analyzer) Analyze(ctx context.Context, owner string, params model.AnalysisParams) (string, error) {
	if params.SortBy == "" {
		params.SortBy = model.SortByConfidence
	}
	if !params.SortBy.Valid() {
		return "", fmt.Errorf("%w: unknown sort order %q", model.ErrValidation, params.SortBy)
	}
	if params.MinConfidence < 0 || params.MinConfidence > 1 {
		return "", fmt.Errorf("%w: minConfidence %v outside [0,1]", model.ErrValidation, params.MinConfidence)
	}

	run := model.NewAnalysisRun(owner, params)

	// Library fingerprint, captured before any work so staleness checks can
	// compare against the library state the run actually saw.
	count, err := a.tracks.CountTracks(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrCatalogUnavailable, err)
	}
	run.LibraryTrackCount = count
	if lastMod, err := a.tracks.LastModified(ctx); err == nil {
		run.LibraryModifiedAt = lastMod
	}

	if err := a.store.BeginRun(ctx, run); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), a.cfg.AnalysisTimeout)
	if err := a.tracker.Start(run.ID, count, cancel); err != nil {
		cancel()
		if failErr := a.store.FailRun(ctx, run.ID, model.CodeValidation, err.Error()); failErr != nil {
			logger.Error("failed to fail run after tracker rejection", logger.ErrorField(failErr))
		}
		return "", err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		a.execute(runCtx, run)
	}()

	logger.Info("analysis started",
		logger.String("runId", run.ID),
		logger.String("owner", owner),
		logger.String("searchTerm", params.SearchTerm),
		logger.Int("libraryTracks", count))
	return run.ID, nil
}

// execute runs the pipeline phases and records the terminal outcome exactly
// once, both in the tracker and in the store.
func (a *Analyzer) execute(ctx context.Context, run *model.AnalysisRun) {
	started := time.Now()
	params := run.Params()

	a.tracker.Advance(run.ID, model.PhaseLoadingTracks, 0, 1, "loading candidate tracks")

	groups, err := a.finder.FindDuplicates(ctx, params, func(processed, total, groupsFound int) {
		a.tracker.TrackCounts(run.ID, processed, total, groupsFound)
		a.tracker.Advance(run.ID, model.PhaseAnalyzing, processed, total, "")
	})
	if err != nil {
		a.finish(run.ID, err)
		return
	}

	a.enrichGroups(ctx, run.ID, groups)
	if err := ctx.Err(); err != nil {
		a.finish(run.ID, err)
		return
	}

	a.tracker.Advance(run.ID, model.PhaseSavingResults, 0, 1, "saving results")
	stats := computeStats(groups, time.Since(started))
	if err := a.store.CompleteRun(ctx, run.ID, groups, stats); err != nil {
		// A cancel or timeout landing mid-save must still end as cancelled
		// or timed out, not as a storage failure.
		a.finish(run.ID, err)
		return
	}

	a.tracker.Advance(run.ID, model.PhaseSavingResults, 1, 1, "")
	a.tracker.Finish(run.ID, model.PhaseCompleted, fmt.Sprintf("found %d duplicate groups", stats.GroupsFound))
	logger.Info("analysis completed",
		logger.String("runId", run.ID),
		logger.Int("groups", stats.GroupsFound),
		logger.Int("duplicates", stats.DuplicatesFound),
		logger.Int64("millis", stats.ProcessingMillis))
}

// enrichGroups cross-references each group against the external catalog. Once
// the catalog degrades the remaining groups are skipped; the analysis itself
// never fails on catalog trouble.
func (a *Analyzer) enrichGroups(ctx context.Context, runID string, groups []*model.DuplicateGroup) {
	degraded := false
	for i, g := range groups {
		a.tracker.Advance(runID, model.PhaseCrossReferencing, i, len(groups), "")
		members := append([]*model.Track{g.Canonical}, g.Duplicates...)
		if degraded {
			g.CatalogMatches = emptyMatches(members)
			continue
		}
		matches, err := a.crossref.MatchAgainstCatalog(ctx, members)
		g.CatalogMatches = matches
		if err != nil {
			if errors.Is(err, model.ErrCatalogUnavailable) {
				degraded = true
				continue
			}
			return
		}
		if m, ok := matches[g.Canonical.ID]; ok && m.Found && m.MatchType == model.MatchExact {
			g.SuggestedAction = model.KeepCatalogVersion
		}
	}
	a.tracker.Advance(runID, model.PhaseCrossReferencing, len(groups), len(groups), "")
}

// finish maps a pipeline error to its terminal run state. The store may have
// compensated already (a failed CompleteRun marks the run failed itself), so
// losing the terminal write to an earlier one is not an error.
func (a *Analyzer) finish(runID string, cause error) {
	// The run context is dead by now; terminal writes use a fresh one.
	writeCtx, cancelWrite := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelWrite()

	switch {
	case errors.Is(cause, context.Canceled):
		if err := a.store.CancelRun(writeCtx, runID); err != nil && !errors.Is(err, model.ErrNotFound) {
			logger.Error("failed to persist cancellation", logger.String("runId", runID), logger.ErrorField(err))
		}
		a.tracker.Finish(runID, model.PhaseCancelled, "analysis cancelled")
	case errors.Is(cause, context.DeadlineExceeded):
		if err := a.store.FailRun(writeCtx, runID, model.CodeTimeout, "analysis exceeded the time budget"); err != nil && !errors.Is(err, model.ErrNotFound) {
			logger.Error("failed to persist timeout", logger.String("runId", runID), logger.ErrorField(err))
		}
		a.tracker.Finish(runID, model.PhaseFailed, "analysis timed out")
	default:
		if err := a.store.FailRun(writeCtx, runID, model.CodeFor(cause), cause.Error()); err != nil && !errors.Is(err, model.ErrNotFound) {
			logger.Error("failed to persist failure", logger.String("runId", runID), logger.ErrorField(err))
		}
		a.tracker.Finish(runID, model.PhaseFailed, cause.Error())
	}
	logger.Warn("analysis did not complete", logger.String("runId", runID), logger.ErrorField(cause))
}

func computeStats(groups []*model.DuplicateGroup, elapsed time.Duration) model.AnalysisStats {
	stats := model.AnalysisStats{
		GroupsFound:      len(groups),
		ProcessingMillis: elapsed.Milliseconds(),
	}
	sum := 0.0
	for _, g := range groups {
		stats.DuplicatesFound += len(g.Duplicates)
		sum += g.AvgScore()
	}
	if len(groups) > 0 {
		stats.AvgSimilarity = sum / float64(len(groups))
	}
	return stats
}

func emptyMatches(tracks []*model.Track) map[int64]model.CatalogMatch {
	out := make(map[int64]model.CatalogMatch, len(tracks))
	for _, t := range tracks {
		out[t.ID] = model.CatalogMatch{Found: false, MatchType: model.MatchNone}
	}
	return out
}

/// Progress returns the live view of a run: the local tracker first, then the
// shared mirror (another instance may own the run), then the persisted record.
func (a *Analyzer) Progress(ctx context.Context, runID string) (*model.AnalysisProgress, error) {
	if p, err := a.tracker.Snapshot(runID); err == nil {
		return p, nil
	}

	if a.mirror != nil {
		if p, err := a.mirror.GetProgress(ctx, runID); err == nil && p != nil {
			return p, nil
		}
	}

	run, err := a.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return progressFromRun(run), nil
}

// progressFromRun synthesizes a terminal progress record for evicted runs.
func progressFromRun(run *model.AnalysisRun) *model.AnalysisProgress {
	p := &model.AnalysisProgress{
		RunID:       run.ID,
		TotalTracks: run.LibraryTrackCount,
		GroupsFound: run.GroupsFound,
		StartedAt:   run.CreatedAt,
	}
	if run.CompletedAt != nil {
		p.UpdatedAt = *run.CompletedAt
	}
	switch run.Status {
	case model.RunStatusCompleted:
		p.Phase = model.PhaseCompleted
		p.Percentage = 100
		p.Message = fmt.Sprintf("found %d duplicate groups", run.GroupsFound)
	case model.RunStatusCancelled:
		p.Phase = model.PhaseCancelled
		p.Message = "analysis cancelled"
	case model.RunStatusFailed:
		p.Phase = model.PhaseFailed
		p.Message = run.ErrorMessage
	default:
		p.Phase = model.PhaseStarting
		p.Message = "analysis running"
	}
	return p
}

// Cancel requests cooperative cancellation of a running analysis.
func (a *Analyzer) Cancel(runID string) error {
	if !a.tracker.Cancel(runID) {
		return fmt.Errorf("run %s: %w", runID, model.ErrNotFound)
	}
	logger.Info("analysis cancellation requested", logger.String("runId", runID))
	return nil
}

// Result loads a persisted run with its groups, snapshots and staleness.
func (a *Analyzer) Result(ctx context.Context, runID string) (*RunView, error) {
	run, err := a.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return a.view(run), nil
}

// Latest returns the newest completed run for the owner, nil when none exists.
func (a *Analyzer) Latest(ctx context.Context, owner, searchTerm string) (*RunView, error) {
	run, err := a.store.LatestRun(ctx, owner, searchTerm)
	if err != nil || run == nil {
		return nil, err
	}
	return a.view(run), nil
}

// History lists run summaries for the owner, newest first.
func (a *Analyzer) History(ctx context.Context, owner string, limit int) ([]*RunView, error) {
	runs, err := a.store.ListRuns(ctx, owner, limit)
	if err != nil {
		return nil, err
	}
	views := make([]*RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, a.view(run))
	}
	return views, nil
}

func (a *Analyzer) view(run *model.AnalysisRun) *RunView {
	return &RunView{
		Run:       run,
		Staleness: run.StalenessAt(time.Now(), a.cfg.StalenessFresh, a.cfg.StalenessModerate, a.cfg.StalenessStale),
	}
}

// Export renders a run in the requested format and archives the payload when
// an archiver is configured. Returns the payload and its content type.
func (a *Analyzer) Export(ctx context.Context, runID string, format ExportFormat) ([]byte, string, error) {
	run, err := a.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, "", err
	}

	payload, contentType, err := ExportRun(run, format)
	if err != nil {
		return nil, "", err
	}

	if a.archive != nil {
		name := fmt.Sprintf("exports/%s.%s", run.ID, format)
		if err := a.archive.Store(ctx, name, payload, contentType); err != nil {
			logger.Warn("export archival failed", logger.String("runId", run.ID), logger.ErrorField(err))
		}
	}
	return payload, contentType, nil
}

// Cleanup applies the retention policy and audits the outcome. Mirrored
// progress of the deleted runs is dropped alongside.
func (a *Analyzer) Cleanup(ctx context.Context, actor string) (*model.CleanupResult, error) {
	result, err := a.store.Cleanup(ctx, a.cfg.CleanupDays, a.cfg.MaxRunsPerOwner)
	if err == nil && a.mirror != nil {
		for _, runID := range result.DeletedRunIDs {
			if derr := a.mirror.DeleteProgress(ctx, runID); derr != nil {
				logger.Warn("failed to drop mirrored progress", logger.String("runId", runID), logger.ErrorField(derr))
			}
		}
	}
	if a.audit != nil {
		entry := &model.AuditEntry{ActionType: model.AuditCleanup, Actor: actor, Success: err == nil}
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.TargetIDs = fmt.Sprintf("runs=%d groups=%d", result.RunsDeleted, result.GroupsDeleted)
		}
		a.audit.Record(ctx, entry)
	}
	return result, err
}

// ActiveRuns reports the number of analyses still in flight.
func (a *Analyzer) ActiveRuns() int { return a.tracker.Active() }

// Wait blocks until every launched analysis goroutine has finished. Used on
// shutdown.
func (a *Analyzer) Wait() { a.wg.Wait() }
