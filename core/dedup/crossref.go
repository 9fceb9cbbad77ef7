package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TuneSweep/core/catalog"
	"TuneSweep/core/similarity"
	"TuneSweep/logger"
	"TuneSweep/model"
)

// CrossReferencer enriches duplicate groups with matches from the external
// catalog. It never fails an analysis: when the catalog is unreachable the
// result degrades to found=false for every track and the caller gets a
// distinguishable model.ErrCatalogUnavailable alongside the map.
type CrossReferencer struct {
	provider       catalog.Provider
	matchThreshold float64
	lookupTimeout  time.Duration
}

// NewCrossReferencer wires the catalog provider with its fuzzy-match threshold
// and per-lookup timeout. A lookup that hangs counts as catalog unavailable.
func NewCrossReferencer(provider catalog.Provider, matchThreshold float64, lookupTimeout time.Duration) *CrossReferencer {
	return &CrossReferencer{provider: provider, matchThreshold: matchThreshold, lookupTimeout: lookupTimeout}
}

// MatchAgainstCatalog classifies each track's catalog presence as exact
// (normalized equality), fuzzy (similarity at or above the threshold) or none,
// and records human-readable metadata differences for found matches.
func (c *CrossReferencer) MatchAgainstCatalog(ctx context.Context, tracks []*model.Track) (map[int64]model.CatalogMatch, error) {
	matches := make(map[int64]model.CatalogMatch, len(tracks))
	degraded := false
	var degradeCause error

	for _, t := range tracks {
		if err := ctx.Err(); err != nil {
			return matches, err
		}
		if degraded {
			matches[t.ID] = model.CatalogMatch{Found: false, MatchType: model.MatchNone}
			continue
		}

		entry, err := c.lookupOne(ctx, t)
		if err != nil {
			if errors.Is(err, model.ErrCatalogUnavailable) || errors.Is(err, context.DeadlineExceeded) {
				// Degrade for the rest of the batch; duplicate detection
				// continues without enrichment.
				degraded = true
				degradeCause = err
				logger.Warn("catalog unavailable, degrading cross-reference",
					logger.Int64("trackId", t.ID), logger.ErrorField(err))
				matches[t.ID] = model.CatalogMatch{Found: false, MatchType: model.MatchNone}
				continue
			}
			return matches, err
		}
		matches[t.ID] = c.classify(t, entry)
	}

	if degraded {
		return matches, fmt.Errorf("%w: %v", model.ErrCatalogUnavailable, degradeCause)
	}
	return matches, nil
}

func (c *CrossReferencer) lookupOne(ctx context.Context, t *model.Track) (*catalog.Entry, error) {
	lctx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()
	return c.provider.Lookup(lctx, t.Song, t.Artist)
}

func (c *CrossReferencer) classify(t *model.Track, entry *catalog.Entry) model.CatalogMatch {
	if entry == nil {
		return model.CatalogMatch{Found: false, MatchType: model.MatchNone}
	}

	exact := similarity.CleanTitle(t.Song) == similarity.CleanTitle(entry.Song) &&
		similarity.CleanArtist(t.Artist) == similarity.CleanArtist(entry.Artist)
	score := similarity.Score(t.Song, t.Artist, entry.Song, entry.Artist)

	match := model.CatalogMatch{
		Song:       entry.Song,
		Artist:     entry.Artist,
		Album:      entry.Album,
		Confidence: score,
	}
	switch {
	case exact:
		match.Found = true
		match.MatchType = model.MatchExact
		match.Confidence = 1.0
	case score >= c.matchThreshold:
		match.Found = true
		match.MatchType = model.MatchFuzzy
	default:
		return model.CatalogMatch{Found: false, MatchType: model.MatchNone, Confidence: score}
	}

	match.Differences = metadataDifferences(t, entry)
	return match
}

func metadataDifferences(t *model.Track, entry *catalog.Entry) []string {
	diffs := make([]string, 0, 2)
	if t.Album != "" && entry.Album != "" && similarity.Normalize(t.Album) != similarity.Normalize(entry.Album) {
		diffs = append(diffs, fmt.Sprintf("album differs: library %q vs catalog %q", t.Album, entry.Album))
	}
	if t.PlayCount != entry.PlayCount {
		diffs = append(diffs, fmt.Sprintf("play count differs: library %d vs catalog %d", t.PlayCount, entry.PlayCount))
	}
	return diffs
}
