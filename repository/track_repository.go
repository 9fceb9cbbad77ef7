package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TuneSweep/model"
)

// TrackRepository defines read access to the track catalog. Analyses never
// write through it; deletion goes through the resolution executor so every
// mutation stays inside one audited transaction.
type TrackRepository interface {
	SearchTracks(ctx context.Context, term string) ([]*model.Track, error)
	GetTrackByID(ctx context.Context, id int64) (*model.Track, error)
	CountTracks(ctx context.Context) (int, error)
	LastModified(ctx context.Context) (*time.Time, error)
}

// mysqlTrackRepository implements TrackRepository for MySQL.
type mysqlTrackRepository struct {
	DB *sql.DB
}

// NewMySQLTrackRepository creates a new instance of mysqlTrackRepository.
func NewMySQLTrackRepository(db *sql.DB) TrackRepository {
	return &mysqlTrackRepository{DB: db}
}

const trackColumns = `id, song, artist, album, play_count, last_played, date_added, category`

func scanTrack(scanner interface{ Scan(...interface{}) error }) (*model.Track, error) {
	track := &model.Track{}
	var lastPlayed sql.NullTime
	var artist, album, category sql.NullString
	err := scanner.Scan(&track.ID, &track.Song, &artist, &album, &track.PlayCount, &lastPlayed, &track.DateAdded, &category)
	if err != nil {
		return nil, err
	}
	track.Artist = artist.String
	track.Album = album.String
	track.Category = category.String
	if lastPlayed.Valid {
		track.LastPlayed = &lastPlayed.Time
	}
	return track, nil
}

// SearchTracks returns the candidate set for an analysis, optionally filtered
// by a substring match on song or artist. Ordered by id for determinism.
func (r *mysqlTrackRepository) SearchTracks(ctx context.Context, term string) ([]*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks ORDER BY id ASC`
	args := []interface{}{}
	if term != "" {
		query = `SELECT ` + trackColumns + ` FROM tracks WHERE song LIKE ? OR artist LIKE ? ORDER BY id ASC`
		pattern := "%" + term + "%"
		args = append(args, pattern, pattern)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]*model.Track, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track in SearchTracks: %w", err)
		}
		tracks = append(tracks, track)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in SearchTracks: %w", err)
	}
	return tracks, nil
}

// GetTrackByID retrieves a track by its ID. Returns nil, nil when not found.
func (r *mysqlTrackRepository) GetTrackByID(ctx context.Context, id int64) (*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ?`
	track, err := scanTrack(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan track by ID %d: %w", id, err)
	}
	return track, nil
}

// CountTracks returns the library size, part of the run fingerprint.
func (r *mysqlTrackRepository) CountTracks(ctx context.Context) (int, error) {
	var count int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return count, nil
}

// LastModified estimates the last library mutation as the latest date_added.
// Returns nil for an empty library.
func (r *mysqlTrackRepository) LastModified(ctx context.Context) (*time.Time, error) {
	var last sql.NullTime
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(date_added) FROM tracks`).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to read library modification estimate: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}
