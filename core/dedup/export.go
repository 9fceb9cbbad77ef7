package dedup

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"TuneSweep/model"
)

// ExportFormat selects the rendering of a persisted run.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// Valid reports whether the format is supported.
func (f ExportFormat) Valid() bool {
	return f == ExportJSON || f == ExportCSV
}

// ExportRun renders a run with all its groups and snapshots. JSON mirrors the
// persisted structure so an export can be read back losslessly; CSV flattens
// to one row per track snapshot with its group context.
func ExportRun(run *model.AnalysisRun, format ExportFormat) ([]byte, string, error) {
	switch format {
	case ExportJSON:
		payload, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("marshal run export: %w", err)
		}
		return payload, "application/json", nil
	case ExportCSV:
		payload, err := exportCSV(run)
		if err != nil {
			return nil, "", err
		}
		return payload, "text/csv", nil
	default:
		return nil, "", fmt.Errorf("%w: unknown export format %q", model.ErrValidation, format)
	}
}

var csvHeader = []string{
	"run_id", "group_position", "group_resolution", "suggested_action",
	"track_id", "song", "artist", "album", "play_count", "date_added",
	"similarity", "is_canonical", "catalog_found", "catalog_match_type",
	"still_exists",
}

func exportCSV(run *model.AnalysisRun) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, g := range run.Groups {
		for _, s := range g.Tracks {
			row := []string{
				run.ID,
				strconv.Itoa(g.Position),
				string(g.Resolution),
				g.SuggestedAction,
				strconv.FormatInt(s.TrackID, 10),
				s.Song,
				s.Artist,
				s.Album,
				strconv.Itoa(s.PlayCount),
				s.DateAdded.Format(time.RFC3339),
				strconv.FormatFloat(s.Similarity, 'f', 4, 64),
				strconv.FormatBool(s.IsCanonical),
				strconv.FormatBool(s.CatalogFound),
				s.CatalogType,
				strconv.FormatBool(s.StillExists),
			}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv export: %w", err)
	}
	return buf.Bytes(), nil
}
