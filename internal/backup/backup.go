// Package backup keeps a per-listing directory of the submitted content and
// photo files. The backup outlives the queue entry, so a posted or purged
// listing can still be reconstructed or re-posted by hand.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrel4d/adpost/internal/listing"
)

// imageExtensions are the photo file types the lookup recognizes.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

// Store manages the backup directory tree, one subdirectory per listing id.
type Store struct {
	root   string
	logger *zap.Logger
}

func NewStore(root string, logger *zap.Logger) *Store {
	return &Store{root: root, logger: logger.Named("backup")}
}

// Dir returns the backup directory for a listing.
func (s *Store) Dir(listingID string) string {
	return filepath.Join(s.root, listingID)
}

// Save writes the listing's content as a readable text document and copies
// its photo files next to it. Photos that cannot be read are skipped with a
// warning; the content document is the part that must not be lost.
func (s *Store) Save(l listing.Listing) error {
	dir := s.Dir(l.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("backup: creating %s: %w", dir, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", l.ID)
	fmt.Fprintf(&b, "title: %s\n", l.Title)
	fmt.Fprintf(&b, "price: %s\n", l.Price())
	fmt.Fprintf(&b, "condition: %s\n", l.Condition)
	fmt.Fprintf(&b, "location: %s\n", l.Location)
	fmt.Fprintf(&b, "created: %s\n", l.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "description:\n%s\n", l.Description)

	dataPath := filepath.Join(dir, "listing_data.txt")
	if err := os.WriteFile(dataPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("backup: writing %s: %w", dataPath, err)
	}

	copied := 0
	for _, src := range l.Photos {
		if err := s.copyPhoto(src, dir); err != nil {
			s.logger.Warn("Photo not backed up",
				zap.String("listing_id", l.ID), zap.String("path", src), zap.Error(err))
			continue
		}
		copied++
	}

	s.logger.Info("Listing backed up",
		zap.String("listing_id", l.ID), zap.String("dir", dir), zap.Int("photos", copied))
	return nil
}

// Photos lists the backed-up photo files for a listing, sorted by name.
// A missing backup directory is an empty result, not an error.
func (s *Store) Photos(listingID string) ([]string, error) {
	dir := s.Dir(listingID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: reading %s: %w", dir, err)
	}

	var photos []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			photos = append(photos, filepath.Join(dir, e.Name()))
		}
	}
	return photos, nil
}

// Remove deletes a listing's backup directory.
func (s *Store) Remove(listingID string) error {
	if err := os.RemoveAll(s.Dir(listingID)); err != nil {
		return fmt.Errorf("backup: removing %s: %w", listingID, err)
	}
	return nil
}

func (s *Store) copyPhoto(src, dir string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dst := filepath.Join(dir, filepath.Base(src))
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
