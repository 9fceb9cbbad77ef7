package dedup

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TuneSweep/model"
)

func exportableRun() *model.AnalysisRun {
	completed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run := model.NewAnalysisRun("alice", model.AnalysisParams{MinConfidence: 0.7})
	run.Status = model.RunStatusCompleted
	run.GroupsFound = 1
	run.DuplicatesFound = 2
	run.CompletedAt = &completed
	run.Groups = []model.PersistedGroup{
		{
			ID:               1,
			RunID:            run.ID,
			Position:         0,
			CanonicalTrackID: 1,
			DuplicateCount:   2,
			SuggestedAction:  string(model.KeepMostPlayed),
			Resolution:       model.ResolutionUnresolved,
			Tracks: []model.TrackSnapshot{
				{TrackID: 1, Song: "I Got", Artist: "Artist X", PlayCount: 10, DateAdded: completed, Similarity: 1.0, IsCanonical: true, StillExists: true},
				{TrackID: 2, Song: "I Got - 2020 Remaster", Artist: "Artist X", PlayCount: 3, DateAdded: completed, Similarity: 0.95, StillExists: true},
				{TrackID: 3, Song: "I Got (Radio Edit)", Artist: "Artist X", PlayCount: 1, DateAdded: completed, Similarity: 0.91, StillExists: false},
			},
		},
	}
	return run
}

func TestExportRunJSONRoundTrip(t *testing.T) {
	run := exportableRun()

	payload, contentType, err := ExportRun(run, ExportJSON)
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)

	var decoded model.AnalysisRun
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, run.ID, decoded.ID)
	assert.Equal(t, run.Status, decoded.Status)
	require.Len(t, decoded.Groups, 1)
	assert.Len(t, decoded.Groups[0].Tracks, 3)
	assert.Equal(t, "I Got", decoded.Groups[0].Tracks[0].Song)
}

func TestExportRunCSV(t *testing.T) {
	run := exportableRun()

	payload, contentType, err := ExportRun(run, ExportCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)

	records, err := csv.NewReader(strings.NewReader(string(payload))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4, "header plus one row per snapshot")
	assert.Equal(t, csvHeader, records[0])

	canonical := records[1]
	assert.Equal(t, run.ID, canonical[0])
	assert.Equal(t, "1", canonical[4])
	assert.Equal(t, "1.0000", canonical[10])
	assert.Equal(t, "true", canonical[11])

	vanished := records[3]
	assert.Equal(t, "false", vanished[14], "deleted tracks stay in the export")
}

func TestExportRunUnknownFormat(t *testing.T) {
	_, _, err := ExportRun(exportableRun(), ExportFormat("xml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestExportFormatValid(t *testing.T) {
	assert.True(t, ExportJSON.Valid())
	assert.True(t, ExportCSV.Valid())
	assert.False(t, ExportFormat("yaml").Valid())
}
