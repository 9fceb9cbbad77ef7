// Package dedup contains the duplicate-detection pipeline: grouping,
// catalog cross-referencing, analysis orchestration and resolution.
package dedup

import (
	"context"
	"fmt"
	"sort"

	"TuneSweep/core/similarity"
	"TuneSweep/model"
	"TuneSweep/repository"
)

// ProgressFunc receives per-track checkpoints during grouping. It doubles as
// the cooperative cancellation point: the finder checks its context between
// tracks, so a checkpoint is never more than one track away.
type ProgressFunc func(processed, total, groupsFound int)

// Finder clusters near-duplicate tracks. Read-only against the catalog.
type Finder struct {
	tracks    repository.TrackRepository
	threshold float64
}

// NewFinder creates a grouping service with the given union threshold.
func NewFinder(tracks repository.TrackRepository, threshold float64) *Finder {
	return &Finder{tracks: tracks, threshold: threshold}
}

// FindDuplicates loads the candidate track set, scores pairs inside
// artist-normalized buckets, unions pairs above the threshold into groups and
// selects a canonical track per group. Groups whose best intra-group
// similarity falls below params.MinConfidence are dropped.
//
// Results are deterministic for a fixed catalog snapshot: tracks are processed
// in id order and all tie-breaks resolve by id.
func (f *Finder) FindDuplicates(ctx context.Context, params model.AnalysisParams, report ProgressFunc) ([]*model.DuplicateGroup, error) {
	tracks, err := f.tracks.SearchTracks(ctx, params.SearchTerm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCatalogUnavailable, err)
	}
	if len(tracks) == 0 {
		return []*model.DuplicateGroup{}, nil
	}

	// Pairwise scoring is restricted to artist buckets so unrelated artists
	// never compare, keeping cost far below n².
	buckets := make(map[string][]*model.Track)
	bucketKeys := make([]string, 0)
	for _, t := range tracks {
		key := similarity.CleanArtist(t.Artist)
		if _, ok := buckets[key]; !ok {
			bucketKeys = append(bucketKeys, key)
		}
		buckets[key] = append(buckets[key], t)
	}
	sort.Strings(bucketKeys)

	parent := make(map[int64]int64, len(tracks))
	byID := make(map[int64]*model.Track, len(tracks))
	for _, t := range tracks {
		parent[t.ID] = t.ID
		byID[t.ID] = t
	}
	var find func(int64) int64
	find = func(id int64) int64 {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	union := func(a, b int64) {
		ra, rb := find(a), find(b)
		if ra != rb {
			if ra < rb {
				parent[rb] = ra
			} else {
				parent[ra] = rb
			}
		}
	}

	processed := 0
	groupsSoFar := 0
	for _, key := range bucketKeys {
		bucket := buckets[key]
		for i, a := range bucket {
			// Cooperative cancellation checkpoint, once per track.
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for _, b := range bucket[i+1:] {
				if similarity.Score(a.Song, a.Artist, b.Song, b.Artist) >= f.threshold {
					if find(a.ID) != find(b.ID) {
						union(a.ID, b.ID)
					}
				}
			}
			processed++
			if report != nil {
				report(processed, len(tracks), groupsSoFar)
			}
		}
		groupsSoFar = countClusters(parent, find)
	}

	clusters := make(map[int64][]*model.Track)
	for _, t := range tracks {
		root := find(t.ID)
		clusters[root] = append(clusters[root], t)
	}

	groups := make([]*model.DuplicateGroup, 0)
	for _, members := range clusters {
		if len(members) < 2 {
			continue
		}
		group := buildGroup(members)
		if group.MaxScore() < params.MinConfidence {
			continue
		}
		groups = append(groups, group)
	}

	sortGroups(groups, params.SortBy)
	return groups, nil
}

// buildGroup selects the canonical member and computes per-duplicate scores
// relative to it. Canonical tie-break: highest play count, then earliest
// date-added, then lowest id.
func buildGroup(members []*model.Track) *model.DuplicateGroup {
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

	canonical := members[0]
	for _, t := range members[1:] {
		if betterCanonical(t, canonical) {
			canonical = t
		}
	}

	group := &model.DuplicateGroup{
		Canonical:       canonical,
		Duplicates:      make([]*model.Track, 0, len(members)-1),
		Scores:          make(map[int64]float64, len(members)-1),
		SuggestedAction: model.KeepMostPlayed,
	}
	for _, t := range members {
		if t.ID == canonical.ID {
			continue
		}
		group.Duplicates = append(group.Duplicates, t)
		group.Scores[t.ID] = similarity.Score(canonical.Song, canonical.Artist, t.Song, t.Artist)
	}
	return group
}

func betterCanonical(a, b *model.Track) bool {
	if a.PlayCount != b.PlayCount {
		return a.PlayCount > b.PlayCount
	}
	if !a.DateAdded.Equal(b.DateAdded) {
		return a.DateAdded.Before(b.DateAdded)
	}
	return a.ID < b.ID
}

func countClusters(parent map[int64]int64, find func(int64) int64) int {
	sizes := make(map[int64]int)
	for id := range parent {
		sizes[find(id)]++
	}
	n := 0
	for _, s := range sizes {
		if s >= 2 {
			n++
		}
	}
	return n
}

// sortGroups orders groups by the requested key, ties broken by canonical
// track id ascending so pagination is reproducible.
func sortGroups(groups []*model.DuplicateGroup, sortBy model.TrackSortOrder) {
	less := func(i, j int) bool { return groups[i].Canonical.ID < groups[j].Canonical.ID }
	switch sortBy {
	case model.SortByArtist:
		less = func(i, j int) bool {
			a, b := groups[i].Canonical.Artist, groups[j].Canonical.Artist
			if a != b {
				return a < b
			}
			return groups[i].Canonical.ID < groups[j].Canonical.ID
		}
	case model.SortBySong:
		less = func(i, j int) bool {
			a, b := groups[i].Canonical.Song, groups[j].Canonical.Song
			if a != b {
				return a < b
			}
			return groups[i].Canonical.ID < groups[j].Canonical.ID
		}
	case model.SortByDuplicates:
		less = func(i, j int) bool {
			if len(groups[i].Duplicates) != len(groups[j].Duplicates) {
				return len(groups[i].Duplicates) > len(groups[j].Duplicates)
			}
			return groups[i].Canonical.ID < groups[j].Canonical.ID
		}
	case model.SortByConfidence:
		less = func(i, j int) bool {
			a, b := groups[i].AvgScore(), groups[j].AvgScore()
			if a != b {
				return a > b
			}
			return groups[i].Canonical.ID < groups[j].Canonical.ID
		}
	}
	sort.SliceStable(groups, less)
}
