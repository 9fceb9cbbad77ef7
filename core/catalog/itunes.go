// Package catalog provides read-only access to the external iTunes-exported
// library used to cross-reference duplicate groups.
package catalog

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"

	"TuneSweep/core/similarity"
	"TuneSweep/logger"
	"TuneSweep/model"
)

// Entry is one track of the external catalog.
type Entry struct {
	Song      string `json:"song"`
	Artist    string `json:"artist"`
	Album     string `json:"album"`
	PlayCount int    `json:"playCount"`
	Genre     string `json:"genre"`
}

// Provider is the read-only catalog collaborator. Lookup returns nil when no
// plausible entry exists and wraps model.ErrCatalogUnavailable when the
// backing catalog cannot be read.
type Provider interface {
	Lookup(ctx context.Context, song, artist string) (*Entry, error)
}

// XMLLibrary reads an iTunes "Library.xml" property list and serves lookups
// from memory. A fsnotify watcher reloads the file when it changes on disk.
type XMLLibrary struct {
	path string

	mu       sync.RWMutex
	exact    map[string]*Entry   // normalized "song|artist" -> entry
	byArtist map[string][]*Entry // normalized artist -> entries
	loaded   bool
	loadErr  error
}

// NewXMLLibrary creates a library around the given file. The first load is
// performed eagerly so startup surfaces a broken path immediately, but a load
// failure is not fatal: lookups report the catalog as unavailable instead.
func NewXMLLibrary(path string) *XMLLibrary {
	l := &XMLLibrary{path: path}
	if err := l.Reload(); err != nil {
		logger.Warn("catalog load failed, cross-referencing will degrade",
			logger.String("path", path), logger.ErrorField(err))
	}
	return l
}

// Reload parses the library file and swaps the in-memory index.
func (l *XMLLibrary) Reload() error {
	f, err := os.Open(l.path)
	if err != nil {
		l.setError(fmt.Errorf("open catalog: %w", err))
		return l.loadErr
	}
	defer f.Close()

	entries, err := parseLibraryXML(f)
	if err != nil {
		l.setError(fmt.Errorf("parse catalog: %w", err))
		return l.loadErr
	}

	exact := make(map[string]*Entry, len(entries))
	byArtist := make(map[string][]*Entry)
	for _, e := range entries {
		key := similarity.CleanTitle(e.Song) + "|" + similarity.CleanArtist(e.Artist)
		exact[key] = e
		artistKey := similarity.CleanArtist(e.Artist)
		byArtist[artistKey] = append(byArtist[artistKey], e)
	}

	l.mu.Lock()
	l.exact = exact
	l.byArtist = byArtist
	l.loaded = true
	l.loadErr = nil
	l.mu.Unlock()

	logger.Info("catalog loaded", logger.String("path", l.path), logger.Int("entries", len(entries)))
	return nil
}

func (l *XMLLibrary) setError(err error) {
	l.mu.Lock()
	l.loaded = false
	l.loadErr = err
	l.mu.Unlock()
}

// Watch reloads the library whenever the file is rewritten. Blocks until the
// context is cancelled; run it on its own goroutine.
func (l *XMLLibrary) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.path); err != nil {
		return fmt.Errorf("watch catalog file: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				logger.Info("catalog file changed, reloading", logger.String("path", l.path))
				if err := l.Reload(); err != nil {
					logger.Error("catalog reload failed", logger.ErrorField(err))
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog watcher error", logger.ErrorField(err))
		}
	}
}

// Lookup finds the catalog entry for a (song, artist) pair: an exact
// normalized hit first, otherwise the most similar title among the same
// artist's entries. Returns nil, nil when nothing plausible exists.
func (l *XMLLibrary) Lookup(ctx context.Context, song, artist string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.loaded {
		return nil, fmt.Errorf("%w: %v", model.ErrCatalogUnavailable, l.loadErr)
	}

	key := similarity.CleanTitle(song) + "|" + similarity.CleanArtist(artist)
	if e, ok := l.exact[key]; ok {
		return e, nil
	}

	var best *Entry
	bestScore := 0.0
	for _, e := range l.byArtist[similarity.CleanArtist(artist)] {
		if s := similarity.Score(song, artist, e.Song, e.Artist); s > bestScore {
			best, bestScore = e, s
		}
	}
	return best, nil
}

// parseLibraryXML walks the plist and extracts the Tracks dictionary. Only the
// fields the engine cares about are kept.
func parseLibraryXML(r io.Reader) ([]*Entry, error) {
	root, err := decodePlist(r)
	if err != nil {
		return nil, err
	}
	top, ok := root.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("library root is not a dict")
	}
	tracks, ok := top["Tracks"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("library has no Tracks dict")
	}

	entries := make([]*Entry, 0, len(tracks))
	for _, v := range tracks {
		t, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		e := &Entry{}
		e.Song, _ = t["Name"].(string)
		e.Artist, _ = t["Artist"].(string)
		e.Album, _ = t["Album"].(string)
		e.Genre, _ = t["Genre"].(string)
		if pc, ok := t["Play Count"].(int); ok {
			e.PlayCount = pc
		}
		if e.Song == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// decodePlist reads an XML property list into Go values: dict -> map,
// array -> slice, integer -> int, real -> float64, true/false -> bool,
// everything else -> string.
func decodePlist(r io.Reader) (interface{}, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("plist has no content: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local == "plist" {
			continue
		}
		return decodeValue(dec, start)
	}
}

func decodeValue(dec *xml.Decoder, start xml.StartElement) (interface{}, error) {
	switch start.Name.Local {
	case "dict":
		return decodeDict(dec)
	case "array":
		return decodeArray(dec)
	case "integer":
		var s string
		if err := dec.DecodeElement(&s, &start); err != nil {
			return nil, err
		}
		return strconv.Atoi(s)
	case "real":
		var s string
		if err := dec.DecodeElement(&s, &start); err != nil {
			return nil, err
		}
		return strconv.ParseFloat(s, 64)
	case "true":
		return true, dec.Skip()
	case "false":
		return false, dec.Skip()
	default: // string, date, data, key
		var s string
		if err := dec.DecodeElement(&s, &start); err != nil {
			return nil, err
		}
		return s, nil
	}
}

func decodeDict(dec *xml.Decoder) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	var key string
	haveKey := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "key" {
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return nil, err
				}
				key, haveKey = s, true
				continue
			}
			v, err := decodeValue(dec, t)
			if err != nil {
				return nil, err
			}
			if haveKey {
				out[key] = v
				haveKey = false
			}
		case xml.EndElement:
			if t.Name.Local == "dict" {
				return out, nil
			}
		}
	}
}

func decodeArray(dec *xml.Decoder) ([]interface{}, error) {
	out := make([]interface{}, 0)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			v, err := decodeValue(dec, t)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		case xml.EndElement:
			if t.Name.Local == "array" {
				return out, nil
			}
		}
	}
}
