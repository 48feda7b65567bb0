package audit

// NoOpLogger discards all events. Used when auditing is disabled.
type NoOpLogger struct{}

func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	return nil
}

func (l *NoOpLogger) Query(options QueryOptions) (QueryResult, error) {
	return QueryResult{Events: []Event{}}, nil
}

func (l *NoOpLogger) Close() error {
	return nil
}
