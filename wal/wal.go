// Package wal keeps an append-only audit log of every decommission run.
// Each pipeline stage transition is recorded before and after the provider
// call that drives it, so an interrupted run can always be reconstructed.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EntryType defines the type of WAL entry
type EntryType string

const (
	EntryLocated           EntryType = "located"
	EntryBlocked           EntryType = "blocked"
	EntryConfirmed         EntryType = "confirmed"
	EntryBackupStarted     EntryType = "backup_started"
	EntryBackupReady       EntryType = "backup_ready"
	EntryProtectionCleared EntryType = "protection_cleared"
	EntryTerminating       EntryType = "terminating"
	EntryTerminated        EntryType = "terminated"
	EntryAmbiguous         EntryType = "ambiguous"
	EntryFailed            EntryType = "failed"
)

// Entry is a single audit record
type Entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
	Type       EntryType       `json:"type"`
	InstanceID string          `json:"instance_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// WAL is an append-only JSON-lines log, one file per run
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
}

// Open creates a new WAL file in dir, named by the run start time
func Open(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filename := fmt.Sprintf("decom-%s.wal", time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640) // #nosec G304 -- path built from dir above
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &WAL{
		file:   file,
		writer: bufio.NewWriter(file),
		dir:    dir,
	}, nil
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Append adds an entry to the WAL
func (w *WAL) Append(entryType EntryType, instanceID string, data interface{}) error {
	return w.append(entryType, instanceID, data, nil)
}

// AppendError adds an entry carrying a failure
func (w *WAL) AppendError(entryType EntryType, instanceID string, data interface{}, cause error) error {
	return w.append(entryType, instanceID, data, cause)
}

func (w *WAL) append(entryType EntryType, instanceID string, data interface{}, cause error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
		raw = encoded
	}

	w.sequence++
	entry := Entry{
		Timestamp:  time.Now(),
		Sequence:   w.sequence,
		Type:       entryType,
		InstanceID: instanceID,
		Data:       raw,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	return w.writeEntry(entry)
}

// writeEntry serializes one entry and forces it to disk. Durability beats
// throughput here; runs write a handful of entries per instance.
func (w *WAL) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if _, err := w.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return w.file.Sync()
}

// Reader replays a single WAL file
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens a WAL file for replay
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path) // #nosec G304 -- audit replay of operator-chosen file
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next reads the next entry, io.EOF at the end
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay walks every decom WAL file in dir and hands entries newer than
// since to handler
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	files, err := filepath.Glob(filepath.Join(dir, "decom-*.wal"))
	if err != nil {
		return fmt.Errorf("failed to list WAL files: %w", err)
	}

	for _, file := range files {
		if err := replayFile(file, since, handler); err != nil {
			return err
		}
	}

	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}
}
