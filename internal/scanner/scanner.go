// Package scanner discovers media files under the configured directories
// and registers them for processing. Identity is the content checksum:
// renaming or moving a file updates its path, re-adding a known file is a
// no-op, and a new checksum is a new file.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"subsync/internal/store"
	"subsync/pkg/log"
)

var defaultExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".aac":  true,
	".mp4":  true,
	".mkv":  true,
	".mov":  true,
	".webm": true,
}

type Scanner struct {
	store      *store.Store
	dirs       []string
	prober     DurationProber
	extensions map[string]bool
}

type Option func(*Scanner)

// WithProber replaces the duration prober, mainly for tests.
func WithProber(prober DurationProber) Option {
	return func(s *Scanner) {
		s.prober = prober
	}
}

// WithExtensions replaces the recognized media file extensions.
func WithExtensions(exts []string) Option {
	return func(s *Scanner) {
		s.extensions = make(map[string]bool, len(exts))
		for _, ext := range exts {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			s.extensions[strings.ToLower(ext)] = true
		}
	}
}

func New(st *store.Store, dirs []string, opts ...Option) *Scanner {
	s := &Scanner{
		store:      st,
		dirs:       dirs,
		prober:     NewFFProbe(),
		extensions: defaultExtensions,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summary reports what one scan pass did.
type Summary struct {
	Seen       int
	Registered int
	Known      int
	Moved      int
}

// Scan walks every configured directory once and seeds pending statuses
// for the given stages on every file, new and known. Known files get new
// stage rows when target languages were added since their registration.
func (s *Scanner) Scan(ctx context.Context, stages []store.Stage) (Summary, error) {
	var summary Summary
	for _, dir := range s.dirs {
		if err := s.scanDir(ctx, dir, stages, &summary); err != nil {
			return summary, err
		}
	}
	log.Info("Scan finished: %d media files seen, %d new, %d moved", summary.Seen, summary.Registered, summary.Moved)
	return summary, nil
}

func (s *Scanner) scanDir(ctx context.Context, dir string, stages []store.Stage, summary *Summary) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			log.Warn("Skipping %s: %v", path, err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !s.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		summary.Seen++
		if err := s.ingest(ctx, path, stages, summary); err != nil {
			log.Error("Ingest %s: %v", path, err)
		}
		return nil
	})
}

func (s *Scanner) ingest(ctx context.Context, path string, stages []store.Stage, summary *Summary) error {
	checksum, err := fileChecksum(path)
	if err != nil {
		return fmt.Errorf("checksum: %w", err)
	}

	existing, err := s.store.MediaByChecksum(ctx, checksum)
	switch {
	case err == nil:
		summary.Known++
		if existing.Path != path {
			if err := s.store.UpdateMediaPath(ctx, existing.ID, path); err != nil {
				return fmt.Errorf("update path: %w", err)
			}
			log.Info("Media %s moved from %s to %s", existing.ID, existing.Path, path)
			summary.Moved++
		}
		return s.store.EnsureStatuses(ctx, existing.ID, stages)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	duration, err := s.prober.Duration(ctx, path)
	if err != nil {
		// Duration is informational; registration must not depend on
		// ffprobe being installed.
		log.Warn("Probe duration of %s: %v", path, err)
		duration = 0
	}

	id, err := s.store.RegisterMedia(ctx, store.MediaFile{
		Path:     path,
		Checksum: checksum,
		Duration: duration,
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	summary.Registered++
	log.Info("Registered %s as %s", path, id)
	return s.store.EnsureStatuses(ctx, id, stages)
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
