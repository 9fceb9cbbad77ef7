package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle status of a persisted analysis run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Staleness classifies the age of a completed run so callers can prompt for a re-run.
type Staleness string

const (
	StalenessFresh     Staleness = "fresh"
	StalenessModerate  Staleness = "moderate"
	StalenessStale     Staleness = "stale"
	StalenessVeryStale Staleness = "very_stale"
)

// ResolutionStatus tracks what happened to a persisted duplicate group after analysis.
type ResolutionStatus string

const (
	ResolutionUnresolved    ResolutionStatus = "unresolved"
	ResolutionDeleted       ResolutionStatus = "deleted"
	ResolutionKeptCanonical ResolutionStatus = "kept_canonical"
	ResolutionManualReview  ResolutionStatus = "manual_review"
)

// MatchType classifies how a track matched the external catalog.
type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchFuzzy MatchType = "fuzzy"
	MatchNone  MatchType = "none"
)

// DeleteStrategy names a deterministic keeper-selection rule for smart deletion.
type DeleteStrategy string

const (
	KeepMostPlayed     DeleteStrategy = "keep_most_played"
	KeepCatalogVersion DeleteStrategy = "keep_catalog_version"
	KeepShortestTitle  DeleteStrategy = "keep_shortest_title"
	KeepCanonical      DeleteStrategy = "keep_canonical"
)

// Valid reports whether the strategy is one of the supported values.
func (s DeleteStrategy) Valid() bool {
	switch s {
	case KeepMostPlayed, KeepCatalogVersion, KeepShortestTitle, KeepCanonical:
		return true
	}
	return false
}

// AnalysisParams are the caller-supplied inputs of one analysis run.
type AnalysisParams struct {
	SearchTerm    string         `json:"searchTerm"`
	SortBy        TrackSortOrder `json:"sortBy"`
	MinConfidence float64        `json:"minConfidence"`
}

// AnalysisStats summarizes a completed run.
type AnalysisStats struct {
	GroupsFound      int     `json:"groupsFound"`
	DuplicatesFound  int     `json:"duplicatesFound"`
	AvgSimilarity    float64 `json:"avgSimilarity"`
	ProcessingMillis int64   `json:"processingMillis"`
}

// CatalogMatch is the result of cross-referencing one track against the
// external catalog. Computed fresh per analysis, persisted only inside its
// owning group snapshot.
type CatalogMatch struct {
	Found       bool      `json:"found"`
	Song        string    `json:"song,omitempty"`
	Artist      string    `json:"artist,omitempty"`
	Album       string    `json:"album,omitempty"`
	MatchType   MatchType `json:"matchType"`
	Confidence  float64   `json:"confidence"`
	Differences []string  `json:"differences,omitempty"`
}

// DuplicateGroup is one transient cluster of near-duplicate tracks produced by
// the grouping service. The canonical track is never part of Duplicates, and
// Scores holds a similarity relative to the canonical for every duplicate.
type DuplicateGroup struct {
	Canonical       *Track                 `json:"canonical"`
	Duplicates      []*Track               `json:"duplicates"`
	Scores          map[int64]float64      `json:"scores"`
	CatalogMatches  map[int64]CatalogMatch `json:"catalogMatches,omitempty"`
	SuggestedAction DeleteStrategy         `json:"suggestedAction"`
}

// MaxScore returns the highest similarity inside the group.
func (g *DuplicateGroup) MaxScore() float64 {
	max := 0.0
	for _, s := range g.Scores {
		if s > max {
			max = s
		}
	}
	return max
}

// AvgScore returns the mean similarity inside the group, 0 for an empty group.
func (g *DuplicateGroup) AvgScore() float64 {
	if len(g.Scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range g.Scores {
		sum += s
	}
	return sum / float64(len(g.Scores))
}

// AnalysisRun is one persisted execution of the duplicate-detection pipeline.
type AnalysisRun struct {
	ID               string    `json:"id" gorm:"primaryKey;size:36"`
	Owner            string    `json:"owner" gorm:"size:100;index"`
	Status           RunStatus `json:"status" gorm:"size:20;not null;index"`
	SearchTerm       string    `json:"searchTerm" gorm:"size:255"`
	SortBy           string    `json:"sortBy" gorm:"size:20"`
	MinConfidence    float64   `json:"minConfidence"`
	GroupsFound      int       `json:"groupsFound"`
	DuplicatesFound  int       `json:"duplicatesFound"`
	AvgSimilarity    float64   `json:"avgSimilarity"`
	ProcessingMillis int64     `json:"processingMillis"`
	// Library fingerprint captured when the run started.
	LibraryTrackCount int        `json:"libraryTrackCount"`
	LibraryModifiedAt *time.Time `json:"libraryModifiedAt,omitempty"`
	ErrorCode         string     `json:"errorCode,omitempty" gorm:"size:40"`
	ErrorMessage      string     `json:"errorMessage,omitempty" gorm:"type:text"`
	CreatedAt         time.Time  `json:"createdAt" gorm:"index"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`

	Groups []PersistedGroup `json:"groups,omitempty" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// TableName 指定表名
func (AnalysisRun) TableName() string {
	return "analysis_runs"
}

// NewAnalysisRun creates a run in the running state with a fresh identifier.
func NewAnalysisRun(owner string, params AnalysisParams) *AnalysisRun {
	return &AnalysisRun{
		ID:            uuid.New().String(),
		Owner:         owner,
		Status:        RunStatusRunning,
		SearchTerm:    params.SearchTerm,
		SortBy:        string(params.SortBy),
		MinConfidence: params.MinConfidence,
		CreatedAt:     time.Now(),
	}
}

// Params reconstructs the input parameters the run was started with.
func (r *AnalysisRun) Params() AnalysisParams {
	return AnalysisParams{
		SearchTerm:    r.SearchTerm,
		SortBy:        TrackSortOrder(r.SortBy),
		MinConfidence: r.MinConfidence,
	}
}

// StalenessAt classifies the run's age at the given instant.
// Thresholds are supplied by the caller so they stay configurable.
func (r *AnalysisRun) StalenessAt(now time.Time, fresh, moderate, stale time.Duration) Staleness {
	age := now.Sub(r.CreatedAt)
	switch {
	case age < fresh:
		return StalenessFresh
	case age < moderate:
		return StalenessModerate
	case age < stale:
		return StalenessStale
	default:
		return StalenessVeryStale
	}
}

// PersistedGroup is one duplicate cluster saved as a child of an AnalysisRun.
type PersistedGroup struct {
	ID               int64            `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID            string           `json:"runId" gorm:"size:36;index;not null"`
	Position         int              `json:"position" gorm:"not null"`
	CanonicalTrackID int64            `json:"canonicalTrackId" gorm:"index;not null"`
	DuplicateCount   int              `json:"duplicateCount"`
	AvgSimilarity    float64          `json:"avgSimilarity"`
	SuggestedAction  string           `json:"suggestedAction" gorm:"size:30"`
	HasCatalogMatch  bool             `json:"hasCatalogMatch"`
	CatalogMatchJSON string           `json:"-" gorm:"type:text"`
	Resolution       ResolutionStatus `json:"resolution" gorm:"size:20;default:'unresolved';index"`
	ResolvedAt       *time.Time       `json:"resolvedAt,omitempty"`

	Tracks []TrackSnapshot `json:"tracks,omitempty" gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
}

// TableName 指定表名
func (PersistedGroup) TableName() string {
	return "analysis_groups"
}

// TrackSnapshot is an immutable copy of a track's fields captured at analysis
// time. It survives deletion of the live track; only StillExists and DeletedAt
// may change after the snapshot is written.
type TrackSnapshot struct {
	ID           int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	GroupID      int64      `json:"groupId" gorm:"index;not null"`
	TrackID      int64      `json:"trackId" gorm:"index;not null"`
	Song         string     `json:"song" gorm:"size:255"`
	Artist       string     `json:"artist" gorm:"size:255"`
	Album        string     `json:"album" gorm:"size:255"`
	PlayCount    int        `json:"playCount"`
	LastPlayed   *time.Time `json:"lastPlayed,omitempty"`
	DateAdded    time.Time  `json:"dateAdded"`
	Similarity   float64    `json:"similarity"`
	IsCanonical  bool       `json:"isCanonical" gorm:"index"`
	CatalogFound bool       `json:"catalogFound"`
	CatalogType  string     `json:"catalogType" gorm:"size:10"`
	CatalogScore float64    `json:"catalogScore"`
	StillExists  bool       `json:"stillExists" gorm:"default:true"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
}

// TableName 指定表名
func (TrackSnapshot) TableName() string {
	return "analysis_track_snapshots"
}

// AnalysisPhase is one step of the in-flight analysis state machine.
type AnalysisPhase string

const (
	PhaseStarting         AnalysisPhase = "starting"
	PhaseLoadingTracks    AnalysisPhase = "loading_tracks"
	PhaseAnalyzing        AnalysisPhase = "analyzing_similarities"
	PhaseCrossReferencing AnalysisPhase = "cross_referencing"
	PhaseSavingResults    AnalysisPhase = "saving_results"
	PhaseCompleted        AnalysisPhase = "completed"
	PhaseCancelled        AnalysisPhase = "cancelled"
	PhaseFailed           AnalysisPhase = "failed"
)

// Terminal reports whether the phase ends the run.
func (p AnalysisPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseFailed
}

// AnalysisProgress is the pollable, in-memory view of a running analysis.
type AnalysisProgress struct {
	RunID            string        `json:"runId"`
	Phase            AnalysisPhase `json:"phase"`
	CurrentStep      int           `json:"currentStep"`
	TotalSteps       int           `json:"totalSteps"`
	Percentage       float64       `json:"percentage"`
	EstimatedSeconds int           `json:"estimatedSeconds"`
	Message          string        `json:"message"`
	TracksProcessed  int           `json:"tracksProcessed"`
	TotalTracks      int           `json:"totalTracks"`
	GroupsFound      int           `json:"groupsFound"`
	StartedAt        time.Time     `json:"startedAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// DeleteResult reports the outcome of a single track deletion.
type DeleteResult struct {
	TrackID int64  `json:"trackId"`
	Deleted bool   `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// BulkDeleteResult reports a batch deletion; failed items never abort the batch.
type BulkDeleteResult struct {
	DeletedCount int            `json:"deletedCount"`
	Failures     []DeleteResult `json:"failures"`
}

// SmartDeleteResult summarizes a strategy-driven deletion pass over a run's groups.
type SmartDeleteResult struct {
	GroupsProcessed int            `json:"groupsProcessed"`
	TracksDeleted   int            `json:"tracksDeleted"`
	TracksKept      int            `json:"tracksKept"`
	Failures        []DeleteResult `json:"failures,omitempty"`
}

// CleanupResult reports how much the retention pass removed. The run ids are
// kept internal so callers can drop derived state (e.g. mirrored progress).
type CleanupResult struct {
	RunsDeleted   int      `json:"runsDeleted"`
	GroupsDeleted int      `json:"groupsDeleted"`
	DeletedRunIDs []string `json:"-"`
}
