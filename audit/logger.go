package audit

import (
	"fmt"
	"time"
)

// ConfigType identifies the audit backend.
type ConfigType string

const (
	TypeFile   ConfigType = "file"
	TypeSyslog ConfigType = "syslog"
	TypeNoop   ConfigType = "noop"
)

// LogLevel controls which events a backend records.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config selects and configures an audit backend.
type Config struct {
	Enabled  bool                   `json:"enabled" yaml:"enabled"`
	Type     ConfigType             `json:"type" yaml:"type"`
	LogLevel LogLevel               `json:"log_level" yaml:"log_level"`
	Options  map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`
}

// Event is a single audit record. Path and KeyID are set for file and
// key operations respectively; Metadata carries anything else.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Path      string                 `json:"path,omitempty"`
	KeyID     string                 `json:"key_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// QueryOptions filters audit events. Zero values match everything.
type QueryOptions struct {
	StartTime   *time.Time
	EndTime     *time.Time
	Action      string
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// QueryResult holds a page of matching events.
type QueryResult struct {
	Events     []Event `json:"events"`
	TotalCount int     `json:"total_count"`
	HasMore    bool    `json:"has_more"`
}

// Logger records vault operations for later inspection.
type Logger interface {
	// Log records one event. Implementations must not block vault
	// operations on query activity.
	Log(action string, success bool, metadata map[string]interface{}) error

	// Query returns events matching the given filters.
	Query(options QueryOptions) (QueryResult, error)

	Close() error
}

// Common audit actions.
const (
	ActionSetup          = "vault_setup"
	ActionUnlock         = "vault_unlock"
	ActionUnlockBio      = "vault_unlock_biometric"
	ActionLock           = "vault_lock"
	ActionEncryptFile    = "file_encrypt"
	ActionDecryptFile    = "file_decrypt"
	ActionChangePassword = "password_change"
	ActionRecover        = "phrase_recover"
	ActionEnrollBio      = "biometric_enroll"
	ActionDisableBio     = "biometric_disable"
	ActionSecureErase    = "secure_erase"
	ActionDecoyTriggered = "decoy_triggered"
)

// NewLogger builds a Logger from configuration. A disabled config
// yields a NoOpLogger.
func NewLogger(config Config) (Logger, error) {
	if !config.Enabled {
		return NewNoOpLogger(), nil
	}

	switch config.Type {
	case TypeFile:
		opts, err := parseFileOptions(config.Options)
		if err != nil {
			return nil, fmt.Errorf("invalid file audit options: %w", err)
		}
		return NewFileLogger(opts)
	case TypeSyslog:
		opts, err := parseSyslogOptions(config.Options)
		if err != nil {
			return nil, fmt.Errorf("invalid syslog audit options: %w", err)
		}
		return NewSyslogLogger(opts)
	case TypeNoop, "":
		return NewNoOpLogger(), nil
	default:
		return nil, fmt.Errorf("unknown audit logger type: %s", config.Type)
	}
}

func parseFileOptions(options map[string]interface{}) (FileOptions, error) {
	opts := FileOptions{}
	if options == nil {
		return opts, fmt.Errorf("file audit logger requires options")
	}
	path, ok := options["file_path"].(string)
	if !ok || path == "" {
		return opts, fmt.Errorf("file_path is required")
	}
	opts.FilePath = path
	return opts, nil
}

func parseSyslogOptions(options map[string]interface{}) (SyslogOptions, error) {
	opts := SyslogOptions{}
	if options == nil {
		return opts, nil
	}
	if v, ok := options["network"].(string); ok {
		opts.Network = v
	}
	if v, ok := options["address"].(string); ok {
		opts.Address = v
	}
	if v, ok := options["tag"].(string); ok {
		opts.Tag = v
	}
	return opts, nil
}
