package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrel4d/adpost/internal/listing"
)

func testListing(t *testing.T, photoDir string) listing.Listing {
	t.Helper()
	l := listing.New("Oak Table", "Solid oak dining table.", 25000)
	l.Location = listing.Location{Country: "England", County: "Surrey"}

	photo := filepath.Join(photoDir, "table.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("jpegdata"), 0o644))
	l.Photos = []string{photo}
	return l
}

func TestSaveWritesContentAndPhotos(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(filepath.Join(dir, "backups"), zap.NewNop())
	l := testListing(t, dir)

	require.NoError(t, st.Save(l))

	data, err := os.ReadFile(filepath.Join(st.Dir(l.ID), "listing_data.txt"))
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "title: Oak Table")
	assert.Contains(t, text, "price: 250.00")
	assert.Contains(t, text, "location: England / Surrey")
	assert.Contains(t, text, "Solid oak dining table.")

	copied, err := os.ReadFile(filepath.Join(st.Dir(l.ID), "table.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(copied))
}

func TestSaveSkipsUnreadablePhotos(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(filepath.Join(dir, "backups"), zap.NewNop())
	l := testListing(t, dir)
	l.Photos = append(l.Photos, filepath.Join(dir, "missing.jpg"))

	require.NoError(t, st.Save(l))

	photos, err := st.Photos(l.ID)
	require.NoError(t, err)
	assert.Len(t, photos, 1)
}

func TestPhotosFiltersNonImages(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(filepath.Join(dir, "backups"), zap.NewNop())
	l := testListing(t, dir)
	require.NoError(t, st.Save(l))

	// The content document sits next to the photos and must not be listed.
	photos, err := st.Photos(l.ID)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "table.jpg", filepath.Base(photos[0]))
}

func TestPhotosMissingListing(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "backups"), zap.NewNop())
	photos, err := st.Photos("nope")
	require.NoError(t, err)
	assert.Empty(t, photos)
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(filepath.Join(dir, "backups"), zap.NewNop())
	l := testListing(t, dir)
	require.NoError(t, st.Save(l))

	require.NoError(t, st.Remove(l.ID))
	_, err := os.Stat(st.Dir(l.ID))
	assert.True(t, os.IsNotExist(err))
}
