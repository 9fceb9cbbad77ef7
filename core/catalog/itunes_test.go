package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TuneSweep/model"
)

const libraryPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Major Version</key><integer>1</integer>
	<key>Tracks</key>
	<dict>
		<key>1001</key>
		<dict>
			<key>Track ID</key><integer>1001</integer>
			<key>Name</key><string>Yesterday</string>
			<key>Artist</key><string>The Beatles</string>
			<key>Album</key><string>Help!</string>
			<key>Genre</key><string>Rock</string>
			<key>Play Count</key><integer>42</integer>
		</dict>
		<key>1002</key>
		<dict>
			<key>Track ID</key><integer>1002</integer>
			<key>Name</key><string>Let It Be</string>
			<key>Artist</key><string>The Beatles</string>
			<key>Album</key><string>Let It Be</string>
		</dict>
		<key>1003</key>
		<dict>
			<key>Track ID</key><integer>1003</integer>
			<key>Comments</key><string>no name, skipped</string>
		</dict>
	</dict>
</dict>
</plist>`

func writeLibrary(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Library.xml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLookupExact(t *testing.T) {
	lib := NewXMLLibrary(writeLibrary(t, libraryPlist))

	e, err := lib.Lookup(context.Background(), "Yesterday", "The Beatles")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "Help!", e.Album)
	assert.Equal(t, 42, e.PlayCount)
}

func TestLookupNormalizesVariantTitles(t *testing.T) {
	lib := NewXMLLibrary(writeLibrary(t, libraryPlist))

	// Suffix variants normalize onto the same catalog key.
	e, err := lib.Lookup(context.Background(), "Yesterday - Remastered 2009", "The Beatles")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "Yesterday", e.Song)
}

func TestLookupFuzzySameArtist(t *testing.T) {
	lib := NewXMLLibrary(writeLibrary(t, libraryPlist))

	e, err := lib.Lookup(context.Background(), "Yesterdy", "The Beatles")
	require.NoError(t, err)
	require.NotNil(t, e, "typo should still find the artist's closest title")
	assert.Equal(t, "Yesterday", e.Song)
}

func TestLookupUnknown(t *testing.T) {
	lib := NewXMLLibrary(writeLibrary(t, libraryPlist))

	e, err := lib.Lookup(context.Background(), "Some Song", "Nobody")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestLookupMissingFile(t *testing.T) {
	lib := NewXMLLibrary(filepath.Join(t.TempDir(), "does-not-exist.xml"))

	_, err := lib.Lookup(context.Background(), "Yesterday", "The Beatles")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrCatalogUnavailable)
}

func TestLookupMalformedFile(t *testing.T) {
	lib := NewXMLLibrary(writeLibrary(t, `<plist><string>not a library</string></plist>`))

	_, err := lib.Lookup(context.Background(), "Yesterday", "The Beatles")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrCatalogUnavailable)
}

func TestReloadPicksUpNewEntries(t *testing.T) {
	path := writeLibrary(t, libraryPlist)
	lib := NewXMLLibrary(path)

	extended := `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>Tracks</key>
	<dict>
		<key>2001</key>
		<dict>
			<key>Name</key><string>Hey Jude</string>
			<key>Artist</key><string>The Beatles</string>
		</dict>
	</dict>
</dict>
</plist>`
	require.NoError(t, os.WriteFile(path, []byte(extended), 0o644))
	require.NoError(t, lib.Reload())

	e, err := lib.Lookup(context.Background(), "Hey Jude", "The Beatles")
	require.NoError(t, err)
	require.NotNil(t, e)

	gone, err := lib.Lookup(context.Background(), "Yesterday", "The Beatles")
	require.NoError(t, err)
	assert.Nil(t, gone, "old entries do not survive a reload")
}
