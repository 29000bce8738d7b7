package sampler

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Spool is the standalone, administrator-controlled sample writer. It is
// independent of the trainer: nothing in internal/trainer reads the files
// it produces. Records are little-endian [u32 key_len][u32 value_len]
// [key][value].
type Spool struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	window   time.Duration

	running   bool
	file      *os.File
	written   int64
	startedAt time.Time
}

// NewSpool builds a Spool rooted at dir. window of 0 means unbounded.
func NewSpool(dir string, maxBytes int64, window time.Duration) *Spool {
	return &Spool{dir: dir, maxBytes: maxBytes, window: window}
}

// Status strings mirror the admin surface's idempotent start/stop
// responses.
const (
	StatusStarted        = "started"
	StatusAlreadyRunning = "already running"
	StatusStopped        = "stopped"
	StatusNotRunning     = "not running"
)

// Start opens a new rotating spool file, naming it
// mcz_samples_YYYYMMDD_HHMMSS.bin per the external-interfaces layout. It
// is idempotent: calling Start while already running reports
// StatusAlreadyRunning without touching the open file.
func (s *Spool) Start(now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return StatusAlreadyRunning, nil
	}

	name := fmt.Sprintf("mcz_samples_%s.bin", now.UTC().Format("20060102_150405"))
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("sampler: open spool file: %w", err)
	}

	s.file = f
	s.written = 0
	s.startedAt = now
	s.running = true
	return StatusStarted, nil
}

// Stop closes the current spool file. Idempotent: calling Stop while not
// running reports StatusNotRunning.
func (s *Spool) Stop() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Spool) stopLocked() (string, error) {
	if !s.running {
		return StatusNotRunning, nil
	}
	err := s.file.Close()
	s.file = nil
	s.running = false
	if err != nil {
		return "", fmt.Errorf("sampler: close spool file: %w", err)
	}
	return StatusStopped, nil
}

// Append writes one (key,value) record, rotating (stopping) the spool
// once spool_max_bytes or sample_window_duration is exceeded. It never
// blocks the caller on contention with Start/Stop beyond a short lock
// hold; a write error is surfaced to the caller, not swallowed.
func (s *Spool) Append(key, value []byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil // administrator hasn't started sampling; not an error
	}

	if s.window > 0 && now.Sub(s.startedAt) >= s.window {
		_, err := s.stopLocked()
		return err
	}

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(value)))

	n := 0
	for _, chunk := range [][]byte{hdr[:], key, value} {
		written, err := s.file.Write(chunk)
		if err != nil {
			return fmt.Errorf("sampler: write spool record: %w", err)
		}
		n += written
	}
	s.written += int64(n)

	if s.maxBytes > 0 && s.written >= s.maxBytes {
		_, err := s.stopLocked()
		return err
	}
	return nil
}

// Status reports StatusStarted/StatusNotRunning for the admin surface.
func (s *Spool) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return StatusStarted
	}
	return StatusNotRunning
}
