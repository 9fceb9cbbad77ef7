package model

import "time"

// Track represents one track of the local music library catalog.
// Rows are read-only during analysis; only the resolution executor deletes them.
type Track struct {
	ID         int64      `json:"id"`
	Song       string     `json:"song"`
	Artist     string     `json:"artist"`
	Album      string     `json:"album"`
	PlayCount  int        `json:"playCount"`
	LastPlayed *time.Time `json:"lastPlayed,omitempty"`
	DateAdded  time.Time  `json:"dateAdded"`
	Category   string     `json:"category"`
}

// TrackSortOrder controls the ordering of duplicate groups returned by an analysis.
type TrackSortOrder string

const (
	SortByArtist     TrackSortOrder = "artist"
	SortBySong       TrackSortOrder = "song"
	SortByDuplicates TrackSortOrder = "duplicates"
	SortByConfidence TrackSortOrder = "confidence"
)

// Valid reports whether the sort order is one of the supported values.
func (s TrackSortOrder) Valid() bool {
	switch s {
	case SortByArtist, SortBySong, SortByDuplicates, SortByConfidence:
		return true
	}
	return false
}
