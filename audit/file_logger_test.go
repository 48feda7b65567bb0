package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) *FileLogger {
	t.Helper()
	logger, err := NewFileLogger(FileOptions{FilePath: filepath.Join(t.TempDir(), "audit.log")})
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestFileLoggerLogAndQuery(t *testing.T) {
	logger := newTestLogger(t)

	if err := logger.Log(ActionUnlock, true, map[string]interface{}{"key_id": "abc123"}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Log(ActionEncryptFile, true, map[string]interface{}{"path": "a.vlt"}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Log(ActionUnlock, false, map[string]interface{}{"error": "bad password"}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	result, err := logger.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.TotalCount != 3 {
		t.Fatalf("expected 3 events, got %d", result.TotalCount)
	}

	// Lifted metadata lands in typed fields.
	if result.Events[0].KeyID != "abc123" {
		t.Errorf("key_id not lifted: %+v", result.Events[0])
	}
	if result.Events[1].Path != "a.vlt" {
		t.Errorf("path not lifted: %+v", result.Events[1])
	}
	if result.Events[2].Error != "bad password" {
		t.Errorf("error not lifted: %+v", result.Events[2])
	}
}

func TestFileLoggerQueryFilters(t *testing.T) {
	logger := newTestLogger(t)

	_ = logger.Log(ActionUnlock, true, nil)
	_ = logger.Log(ActionUnlock, false, nil)
	_ = logger.Log(ActionLock, true, nil)

	result, err := logger.Query(QueryOptions{Action: ActionUnlock})
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalCount != 2 {
		t.Fatalf("action filter: expected 2, got %d", result.TotalCount)
	}

	result, err = logger.Query(QueryOptions{FailureOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalCount != 1 || result.Events[0].Action != ActionUnlock {
		t.Fatalf("failure filter: %+v", result)
	}

	future := time.Now().Add(time.Hour)
	result, err = logger.Query(QueryOptions{StartTime: &future})
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalCount != 0 {
		t.Fatalf("time filter: expected 0, got %d", result.TotalCount)
	}
}

func TestFileLoggerPagination(t *testing.T) {
	logger := newTestLogger(t)
	for i := 0; i < 5; i++ {
		_ = logger.Log(ActionEncryptFile, true, nil)
	}

	result, err := logger.Query(QueryOptions{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Events) != 2 || !result.HasMore || result.TotalCount != 5 {
		t.Fatalf("pagination: %+v", result)
	}

	result, err = logger.Query(QueryOptions{Offset: 4, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Events) != 1 || result.HasMore {
		t.Fatalf("offset pagination: %+v", result)
	}
}

func TestFileLoggerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	logger, err := NewFileLogger(FileOptions{FilePath: path})
	if err != nil {
		t.Fatal(err)
	}
	_ = logger.Log(ActionSetup, true, nil)
	logger.Close()

	// A fresh logger over the same file sees the earlier events.
	reopened, err := NewFileLogger(FileOptions{FilePath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	result, err := reopened.Query(QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalCount != 1 || result.Events[0].Action != ActionSetup {
		t.Fatalf("reopen query: %+v", result)
	}
}

func TestNewLoggerFactory(t *testing.T) {
	logger, err := NewLogger(Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := logger.(*NoOpLogger); !ok {
		t.Fatalf("disabled config should yield NoOpLogger, got %T", logger)
	}

	if _, err := NewLogger(Config{Enabled: true, Type: TypeFile}); err == nil {
		t.Fatal("file logger without options must fail")
	}

	if _, err := NewLogger(Config{Enabled: true, Type: "bogus"}); err == nil {
		t.Fatal("unknown type must fail")
	}
}
