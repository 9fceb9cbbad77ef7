// Package progress owns the in-memory lifecycle state of running analyses.
package progress

import (
	"context"
	"sync"
	"time"

	"TuneSweep/logger"
	"TuneSweep/model"
)

// Mirror receives best-effort copies of progress updates, e.g. to publish
// them into Redis so any instance can serve polls. Failures are the mirror's
// problem; the tracker never blocks on it.
type Mirror interface {
	Publish(p model.AnalysisProgress)
}

// Phase weights for the overall percentage. Similarity analysis dominates the
// wall clock, so it gets most of the band.
var phaseBands = map[model.AnalysisPhase][2]float64{
	model.PhaseStarting:         {0, 2},
	model.PhaseLoadingTracks:    {2, 10},
	model.PhaseAnalyzing:        {10, 70},
	model.PhaseCrossReferencing: {70, 90},
	model.PhaseSavingResults:    {90, 99},
}

type entry struct {
	progress model.AnalysisProgress
	cancel   context.CancelFunc
}

// Tracker is the sole owner of AnalysisProgress records, keyed by run id.
// Progress reads within a run are monotonic: percentage and step counters
// never regress. Terminal records stay pollable for a TTL, then evict.
type Tracker struct {
	mu     sync.RWMutex
	runs   map[string]*entry
	ttl    time.Duration
	mirror Mirror
	now    func() time.Time
}

// NewTracker creates a tracker whose terminal records live for ttl.
func NewTracker(ttl time.Duration, mirror Mirror) *Tracker {
	return &Tracker{
		runs:   make(map[string]*entry),
		ttl:    ttl,
		mirror: mirror,
		now:    time.Now,
	}
}

// Start registers a new run with its cancellation handle. Starting a run id
// that is still active is a precondition violation.
func (t *Tracker) Start(runID string, totalTracks int, cancel context.CancelFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.runs[runID]; ok && !e.progress.Phase.Terminal() {
		return model.ErrRunActive
	}
	now := t.now()
	e := &entry{
		progress: model.AnalysisProgress{
			RunID:       runID,
			Phase:       model.PhaseStarting,
			TotalTracks: totalTracks,
			Message:     "starting analysis",
			StartedAt:   now,
			UpdatedAt:   now,
		},
		cancel: cancel,
	}
	t.runs[runID] = e
	t.publish(e.progress)
	return nil
}

// Advance moves a run to the given phase and step counts. Updates on unknown
// or already-terminal runs are dropped: a terminal write is final.
func (t *Tracker) Advance(runID string, phase model.AnalysisPhase, current, total int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.runs[runID]
	if !ok || e.progress.Phase.Terminal() {
		return
	}

	p := &e.progress
	phaseChanged := p.Phase != phase
	p.Phase = phase
	if phaseChanged || current > p.CurrentStep {
		p.CurrentStep = current
	}
	p.TotalSteps = total
	if message != "" {
		p.Message = message
	}
	p.UpdatedAt = t.now()
	t.recomputeLocked(p, phase, current, total)
	t.publish(*p)
}

// TrackCounts updates the per-track counters reported by the grouping loop.
func (t *Tracker) TrackCounts(runID string, processed, totalTracks, groupsFound int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.runs[runID]
	if !ok || e.progress.Phase.Terminal() {
		return
	}
	p := &e.progress
	if processed > p.TracksProcessed {
		p.TracksProcessed = processed
	}
	p.TotalTracks = totalTracks
	if groupsFound > p.GroupsFound {
		p.GroupsFound = groupsFound
	}
	p.UpdatedAt = t.now()
}

// recomputeLocked maps phase plus step progress into a monotonic percentage
// and refreshes the remaining-time estimate.
func (t *Tracker) recomputeLocked(p *model.AnalysisProgress, phase model.AnalysisPhase, current, total int) {
	band, ok := phaseBands[phase]
	if !ok {
		return
	}
	frac := 0.0
	if total > 0 {
		frac = float64(current) / float64(total)
		if frac > 1 {
			frac = 1
		}
	}
	pct := band[0] + (band[1]-band[0])*frac
	if pct > p.Percentage {
		p.Percentage = pct
	}
	if p.Percentage > 0 {
		elapsed := t.now().Sub(p.StartedAt).Seconds()
		p.EstimatedSeconds = int(elapsed / p.Percentage * (100 - p.Percentage))
	}
}

// Cancel requests cooperative cancellation. Returns false when the run is
// unknown or already terminal.
func (t *Tracker) Cancel(runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.runs[runID]
	if !ok || e.progress.Phase.Terminal() {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	return true
}

// Finish records the terminal phase of a run and schedules eviction after the
// TTL. No updates are accepted afterwards.
func (t *Tracker) Finish(runID string, phase model.AnalysisPhase, message string) {
	if !phase.Terminal() {
		return
	}
	t.mu.Lock()
	e, ok := t.runs[runID]
	if !ok || e.progress.Phase.Terminal() {
		t.mu.Unlock()
		return
	}
	p := &e.progress
	p.Phase = phase
	if phase == model.PhaseCompleted {
		p.Percentage = 100
		p.EstimatedSeconds = 0
	}
	if message != "" {
		p.Message = message
	}
	p.UpdatedAt = t.now()
	snapshot := *p
	t.mu.Unlock()

	t.publish(snapshot)
	time.AfterFunc(t.ttl, func() { t.evict(runID, snapshot.UpdatedAt) })
}

// evict drops the run unless it was restarted since the terminal write.
func (t *Tracker) evict(runID string, terminalAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.runs[runID]; ok && e.progress.Phase.Terminal() && !e.progress.UpdatedAt.After(terminalAt) {
		delete(t.runs, runID)
	}
}

// Snapshot returns a copy of the current progress. Unknown run ids yield
// model.ErrNotFound; callers should fall back to the persisted store, since a
// finished run's in-memory record may already be reclaimed.
func (t *Tracker) Snapshot(runID string) (*model.AnalysisProgress, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.runs[runID]
	if !ok {
		return nil, model.ErrNotFound
	}
	snap := e.progress
	return &snap, nil
}

// Active returns the number of non-terminal runs, used by shutdown logging.
func (t *Tracker) Active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.runs {
		if !e.progress.Phase.Terminal() {
			n++
		}
	}
	return n
}

func (t *Tracker) publish(p model.AnalysisProgress) {
	if t.mirror == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("progress mirror panicked", logger.Any("cause", r))
		}
	}()
	t.mirror.Publish(p)
}
