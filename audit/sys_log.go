//go:build !windows

package audit

import (
	"encoding/json"
	"fmt"
	"log/syslog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SyslogOptions configures the syslog backend. Empty Network and
// Address connect to the local syslog daemon.
type SyslogOptions struct {
	Network string `json:"network"`
	Address string `json:"address"`
	Tag     string `json:"tag"`
}

// SyslogLogger forwards audit events to syslog as JSON payloads.
// Query is unsupported; syslog is write-only from this side.
type SyslogLogger struct {
	mu     sync.Mutex
	writer *syslog.Writer
}

func NewSyslogLogger(options SyslogOptions) (*SyslogLogger, error) {
	tag := options.Tag
	if tag == "" {
		tag = "securefolder-audit"
	}

	var writer *syslog.Writer
	var err error
	if options.Network != "" || options.Address != "" {
		writer, err = syslog.Dial(options.Network, options.Address, syslog.LOG_INFO|syslog.LOG_AUTH, tag)
	} else {
		writer, err = syslog.New(syslog.LOG_INFO|syslog.LOG_AUTH, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog: %w", err)
	}

	return &SyslogLogger{writer: writer}, nil
}

func (l *SyslogLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	event := Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Success:   success,
		Metadata:  metadata,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil {
		return fmt.Errorf("syslog logger is closed")
	}
	if success {
		return l.writer.Info(string(data))
	}
	return l.writer.Warning(string(data))
}

func (l *SyslogLogger) Query(options QueryOptions) (QueryResult, error) {
	return QueryResult{}, fmt.Errorf("syslog audit logger does not support queries")
}

func (l *SyslogLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil {
		return nil
	}
	err := l.writer.Close()
	l.writer = nil
	return err
}
