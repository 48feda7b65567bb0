package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileOptions configures the JSONL file backend.
type FileOptions struct {
	FilePath string `json:"file_path"`
}

// FileLogger appends one JSON event per line and syncs after each
// write so records survive a crash of the host process.
type FileLogger struct {
	mu      sync.Mutex
	options FileOptions
	file    *os.File
}

func NewFileLogger(options FileOptions) (*FileLogger, error) {
	if options.FilePath == "" {
		return nil, fmt.Errorf("audit log file path is required")
	}

	dir := filepath.Dir(options.FilePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(options.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &FileLogger{
		options: options,
		file:    file,
	}, nil
}

func (l *FileLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	event := Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Success:   success,
	}

	// Well-known metadata keys get lifted into typed fields.
	if metadata != nil {
		rest := make(map[string]interface{})
		for k, v := range metadata {
			switch k {
			case "path":
				if s, ok := v.(string); ok {
					event.Path = s
					continue
				}
			case "key_id":
				if s, ok := v.(string); ok {
					event.KeyID = s
					continue
				}
			case "error":
				if s, ok := v.(string); ok {
					event.Error = s
					continue
				}
			}
			rest[k] = v
		}
		if len(rest) > 0 {
			event.Metadata = rest
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	return nil
}

func (l *FileLogger) Query(options QueryOptions) (QueryResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAllEvents()
	if err != nil {
		return QueryResult{}, err
	}

	var matched []Event
	for _, ev := range events {
		if !matchEvent(ev, options) {
			continue
		}
		matched = append(matched, ev)
	}

	total := len(matched)

	if options.Offset > 0 {
		if options.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[options.Offset:]
		}
	}

	hasMore := false
	if options.Limit > 0 && len(matched) > options.Limit {
		matched = matched[:options.Limit]
		hasMore = true
	}

	if matched == nil {
		matched = []Event{}
	}

	return QueryResult{
		Events:     matched,
		TotalCount: total,
		HasMore:    hasMore,
	}, nil
}

func (l *FileLogger) readAllEvents() ([]Event, error) {
	file, err := os.Open(l.options.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log for query: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// Skip corrupt lines rather than losing the rest.
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return events, nil
}

func matchEvent(ev Event, options QueryOptions) bool {
	if options.StartTime != nil && ev.Timestamp.Before(*options.StartTime) {
		return false
	}
	if options.EndTime != nil && ev.Timestamp.After(*options.EndTime) {
		return false
	}
	if options.Action != "" && ev.Action != options.Action {
		return false
	}
	if options.SuccessOnly && !ev.Success {
		return false
	}
	if options.FailureOnly && ev.Success {
		return false
	}
	return true
}

func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
