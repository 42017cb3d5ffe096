// Package jsonl provides a JSON Lines file-backed record store. One record
// per line keeps the format append-only and stable across writes, and JSON
// encoding escapes embedded newlines and delimiters in message content.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/flowscribe/flowscribe/pkg/record"
)

// Store appends records to a single log file. A mutex serializes writers so
// concurrent appends never interleave lines.
type Store struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewStore opens (or creates) the log file at path in append mode. The file
// handle is held for the store's lifetime and released by Close.
func NewStore(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening record log: %w", err)
	}
	return &Store{file: f, path: path}, nil
}

// Append writes rec as one JSON line. The line is marshaled fully before the
// single write call, so a marshal failure leaves the file untouched.
func (s *Store) Append(_ context.Context, rec *record.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.ID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("appending record %s: %w", rec.ID, err)
	}
	return nil
}

// List reads the log file back into records, in append order.
func (s *Store) List(_ context.Context) ([]*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening record log for read: %w", err)
	}
	defer f.Close()

	var records []*record.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decoding record line: %w", err)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading record log: %w", err)
	}
	return records, nil
}

// Count returns the number of persisted records.
func (s *Store) Count(ctx context.Context) (int, error) {
	records, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Close syncs and releases the log file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("syncing record log: %w", err)
	}
	return s.file.Close()
}
