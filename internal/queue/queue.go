// Package queue keeps the list of image paths a run still has to process in
// a plain text snapshot file, so an interrupted run resumes where it stopped.
package queue

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/kozaktomas/face-sorter/internal/logging"
)

// ErrLocked is returned when another process holds the queue.
var ErrLocked = errors.New("queue is in use by another run")

// Queue is a FIFO of absolute file paths backed by a snapshot file with one
// path per line. It is safe for concurrent use.
type Queue struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	mu     sync.Mutex
	items  []string
	loaded []string
}

// New returns a queue persisted at path. Nothing is read until
// EnqueueFromScan.
func New(path string, logger *slog.Logger) *Queue {
	return &Queue{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logging.Component(logger, "queue"),
	}
}

// Path returns the snapshot file location.
func (q *Queue) Path() string {
	return q.path
}

// Lock takes an exclusive lock on the snapshot so two runs cannot share it.
func (q *Queue) Lock() error {
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return fmt.Errorf("create queue directory: %w", err)
	}
	ok, err := q.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire queue lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Unlock releases the lock taken by Lock.
func (q *Queue) Unlock() error {
	if err := q.lock.Unlock(); err != nil {
		return fmt.Errorf("release queue lock: %w", err)
	}
	return nil
}

// EnqueueFromScan fills the queue. A non-empty snapshot from an unfinished
// run takes priority: its paths are reloaded, dropping files that no longer
// exist, and resumed is true. Otherwise folders are scanned for images and
// the result is written to the snapshot before returning.
func (q *Queue) EnqueueFromScan(folders []string, recursive bool) (resumed bool, err error) {
	snapshot, err := q.readSnapshot()
	if err != nil {
		return false, err
	}
	if len(snapshot) > 0 {
		existing := make([]string, 0, len(snapshot))
		for _, p := range snapshot {
			if _, statErr := os.Stat(p); statErr == nil {
				existing = append(existing, p)
			}
		}
		if dropped := len(snapshot) - len(existing); dropped > 0 {
			q.logger.Info("dropped missing files from snapshot", "dropped", dropped)
		}
		q.set(existing)
		q.logger.Info("resuming from snapshot", "path", q.path, "pending", len(existing))
		return true, nil
	}

	paths, err := ScanFolders(folders, recursive)
	if err != nil {
		return false, err
	}
	if err := q.writeSnapshot(paths); err != nil {
		return false, err
	}
	q.set(paths)
	q.logger.Info("queued images from scan", "folders", len(folders), "pending", len(paths))
	return false, nil
}

func (q *Queue) set(paths []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]string(nil), paths...)
	q.loaded = append([]string(nil), paths...)
}

// Size returns the number of paths not yet dequeued.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether every path has been dequeued.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Dequeue removes and returns the oldest path.
func (q *Queue) Dequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	p := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return p, true
}

// Checkpoint rewrites the snapshot as the last loaded work list minus
// completed, and returns how many paths remain in it.
func (q *Queue) Checkpoint(completed map[string]struct{}) (int, error) {
	q.mu.Lock()
	remaining := make([]string, 0, len(q.loaded))
	for _, p := range q.loaded {
		if _, done := completed[p]; !done {
			remaining = append(remaining, p)
		}
	}
	q.mu.Unlock()

	if err := q.writeSnapshot(remaining); err != nil {
		return 0, err
	}
	q.logger.Debug("checkpoint written", "remaining", len(remaining), "completed", len(completed))
	return len(remaining), nil
}

// Clear removes the snapshot. It is called after a run finished with nothing
// left to process.
func (q *Queue) Clear() error {
	q.mu.Lock()
	q.items = nil
	q.loaded = nil
	q.mu.Unlock()

	if err := os.Remove(q.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove queue snapshot: %w", err)
	}
	return nil
}

// Pending returns the paths of the snapshot file as stored, without existence
// checks.
func (q *Queue) Pending() ([]string, error) {
	return q.readSnapshot()
}

func (q *Queue) readSnapshot() ([]string, error) {
	f, err := os.Open(q.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open queue snapshot: %w", err)
	}
	defer f.Close()

	var paths []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read queue snapshot: %w", err)
	}
	return paths, nil
}

// writeSnapshot replaces the snapshot file atomically.
func (q *Queue) writeSnapshot(paths []string) error {
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return fmt.Errorf("create queue directory: %w", err)
	}
	tmp := q.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create queue snapshot: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, p := range paths {
		w.WriteString(p)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write queue snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync queue snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close queue snapshot: %w", err)
	}
	if err := os.Rename(tmp, q.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace queue snapshot: %w", err)
	}
	return nil
}
