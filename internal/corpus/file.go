package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zstd"

	"github.com/Aman-CERP/docsearch/internal/store"
)

// maxLineBytes bounds a single JSON line (one fragment with its embedding).
const maxLineBytes = 16 << 20

// FileSource reads a JSON Lines snapshot, one fragment per line. Paths ending
// in .zst are zstd-compressed. Readers take a shared lock on path+".lock";
// WriteSnapshot takes the exclusive one, so a reader never sees a partial
// file. The parsed snapshot is reused until the file's size or mtime changes.
type FileSource struct {
	path string
	lock *flock.Flock

	mu        sync.Mutex
	cached    []store.Fragment
	cachedMod time.Time
	cachedLen int64
}

// NewFileSource creates a source for path. The file need not exist yet.
func NewFileSource(path string) *FileSource {
	return &FileSource{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the snapshot path.
func (s *FileSource) Path() string {
	return s.path
}

// Fragments returns the snapshot, re-reading it only when it changed on disk.
func (s *FileSource) Fragments(ctx context.Context) ([]store.Fragment, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && info.ModTime().Equal(s.cachedMod) && info.Size() == s.cachedLen {
		return s.cached, nil
	}

	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("acquire read lock: %w", err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("snapshot_unlock_failed", slog.String("error", err.Error()))
		}
	}()

	frags, err := readSnapshot(ctx, s.path)
	if err != nil {
		return nil, err
	}
	s.cached = frags
	s.cachedMod = info.ModTime()
	s.cachedLen = info.Size()
	return frags, nil
}

func readSnapshot(ctx context.Context, path string) ([]store.Fragment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if isCompressed(path) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var out []store.Fragment
	line := 0
	for scanner.Scan() {
		line++
		if line%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var frag store.Fragment
		if err := json.Unmarshal([]byte(raw), &frag); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if frag.ID == "" {
			return nil, fmt.Errorf("%s:%d: fragment without id", filepath.Base(path), line)
		}
		out = append(out, frag)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return out, nil
}

// WriteSnapshot atomically replaces the snapshot at path.
func WriteSnapshot(path string, fragments []store.Fragment) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	write := func() error {
		var w io.Writer = f
		var enc *zstd.Encoder
		if isCompressed(path) {
			enc, err = zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
			if err != nil {
				return err
			}
			w = enc
		}
		bw := bufio.NewWriter(w)
		je := json.NewEncoder(bw)
		for _, frag := range fragments {
			if err := je.Encode(frag); err != nil {
				return err
			}
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		if enc != nil {
			if err := enc.Close(); err != nil {
				return err
			}
		}
		return f.Close()
	}
	if err := write(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Watch calls onChange after the snapshot file is created, written or
// replaced, coalescing bursts within debounce. It blocks until ctx is done.
func (s *FileSource) Watch(ctx context.Context, debounce time.Duration, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	// Watch the directory: atomic replacement swaps the inode under the path.
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	target := filepath.Clean(s.path)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			slog.Info("snapshot_changed", slog.String("path", s.path))
			onChange()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("snapshot_watch_error", slog.String("error", err.Error()))
		}
	}
}

// Close releases the lock handle.
func (s *FileSource) Close() error {
	return s.lock.Close()
}

func isCompressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

var _ Source = (*FileSource)(nil)
