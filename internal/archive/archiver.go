package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"

	"github.com/herohde/chessbot/internal/logging"
)

var archivePathCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Archiver is the Archiver (C7, §4.7): a single-consumer queue that formats
// completed games as PGN text and appends them to a rotating compressed
// sink. Enqueue never blocks the caller on I/O (§4.7 "do not block other
// components").
type Archiver struct {
	mu       sync.Mutex
	pending  []GameRecord
	notEmpty *sync.Cond
	closed   bool

	dir      string
	rotate   time.Duration
	compress bool
	now      func() time.Time
	logger   *logging.Logger

	current       *os.File
	currentWriter *snappy.Writer
	segmentStart  time.Time

	done chan struct{}
}

// New constructs an Archiver writing to dir, rotating its compressed segment
// every rotate interval. When compress is false, records are appended as
// plain text (primarily for local inspection/testing).
func New(dir string, rotate time.Duration, compress bool, logger *logging.Logger) (*Archiver, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	if logger == nil {
		logger = logging.L()
	}
	a := &Archiver{
		dir:      dir,
		rotate:   rotate,
		compress: compress,
		now:      time.Now,
		logger:   logger,
		done:     make(chan struct{}),
	}
	a.notEmpty = sync.NewCond(&a.mu)
	go a.run()
	return a, nil
}

// Enqueue appends rec to the unbounded pending queue without blocking on I/O.
func (a *Archiver) Enqueue(rec GameRecord) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.pending = append(a.pending, rec)
	a.mu.Unlock()
	a.notEmpty.Signal()
}

// Close stops accepting new records, drains the pending queue, and releases
// the current segment.
func (a *Archiver) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.notEmpty.Signal()
	<-a.done

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeSegmentLocked()
}

func (a *Archiver) run() {
	defer close(a.done)
	for {
		a.mu.Lock()
		for len(a.pending) == 0 && !a.closed {
			a.notEmpty.Wait()
		}
		if len(a.pending) == 0 && a.closed {
			a.mu.Unlock()
			return
		}
		rec := a.pending[0]
		a.pending = a.pending[1:]
		a.mu.Unlock()

		if err := a.write(rec); err != nil {
			a.logger.Warn("archive write failed", append([]logging.Field{logging.GameID(rec.GameID)}, logging.ErrorFields(err)...)...)
		}
	}
}

func (a *Archiver) write(rec GameRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.rotateIfNeededLocked(); err != nil {
		return err
	}
	text := FormatPGN(rec)
	if a.compress {
		if _, err := a.currentWriter.Write([]byte(text)); err != nil {
			return err
		}
		return a.currentWriter.Flush()
	}
	_, err := a.current.WriteString(text)
	return err
}

func (a *Archiver) rotateIfNeededLocked() error {
	now := a.now()
	if a.current != nil && now.Sub(a.segmentStart) < a.rotate {
		return nil
	}
	if err := a.closeSegmentLocked(); err != nil {
		return err
	}
	return a.openSegmentLocked(now)
}

func (a *Archiver) openSegmentLocked(now time.Time) error {
	name := fmt.Sprintf("games-%s.pgn", archivePathCleaner.ReplaceAllString(now.UTC().Format("20060102T150405Z"), ""))
	if a.compress {
		name += ".sz"
	}
	f, err := os.Create(filepath.Join(a.dir, name))
	if err != nil {
		return fmt.Errorf("create archive segment: %w", err)
	}
	a.current = f
	a.segmentStart = now
	if a.compress {
		a.currentWriter = snappy.NewBufferedWriter(f)
	}
	return nil
}

func (a *Archiver) closeSegmentLocked() error {
	if a.current == nil {
		return nil
	}
	var firstErr error
	if a.currentWriter != nil {
		if err := a.currentWriter.Close(); err != nil {
			firstErr = err
		}
		a.currentWriter = nil
	}
	if err := a.current.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.current = nil
	return firstErr
}
