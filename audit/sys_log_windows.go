//go:build windows

package audit

import "fmt"

// SyslogOptions configures the syslog backend. Unsupported on Windows.
type SyslogOptions struct {
	Network string `json:"network"`
	Address string `json:"address"`
	Tag     string `json:"tag"`
}

type SyslogLogger struct{}

func NewSyslogLogger(options SyslogOptions) (*SyslogLogger, error) {
	return nil, fmt.Errorf("syslog audit logger is not supported on windows")
}

func (l *SyslogLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	return fmt.Errorf("syslog audit logger is not supported on windows")
}

func (l *SyslogLogger) Query(options QueryOptions) (QueryResult, error) {
	return QueryResult{}, fmt.Errorf("syslog audit logger is not supported on windows")
}

func (l *SyslogLogger) Close() error {
	return nil
}
