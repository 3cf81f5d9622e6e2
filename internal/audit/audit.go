// Package audit is the structured, append-only process log: every pipeline
// stage decision (policy rule matched, batch locked, reclaim submitted,
// attestation signed) is recorded here, spec.md §3: "informational only;
// not covered by the state hash." Entries land in both a JSONL file (for
// tailing) and the ledger's audit_log table (for querying alongside
// lifecycle data), mirroring the teacher's dual-sink Record.
package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kora-labs/kora-rent/internal/ledger"
	"github.com/kora-labs/kora-rent/internal/shared"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Fields    string `json:"fields,omitempty"`
}

var (
	mu         sync.Mutex
	file       *os.File
	store      *ledger.Store
	errorCount atomic.Int64
)

// Init opens (creating if needed) <homeDir>/logs/audit.jsonl for append.
func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetStore configures the ledger handle audit_log rows are also written to.
func SetStore(s *ledger.Store) {
	mu.Lock()
	defer mu.Unlock()
	store = s
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// ErrorCount returns the total number of "error"/"critical" level entries
// recorded since startup, used by `report` to surface a run-health summary.
func ErrorCount() int64 {
	return errorCount.Load()
}

// Record writes one audit entry to the JSONL file and, if configured, the
// ledger's audit_log table. fields is marshaled to a compact JSON object;
// nil becomes "{}". message is redacted before persistence so an RPC error
// string or config dump never leaks key material into the audit trail.
func Record(level, component, message string, fields map[string]interface{}) {
	if level == "error" || level == "critical" {
		errorCount.Add(1)
	}

	message = shared.Redact(message)

	fieldsJSON := []byte("{}")
	if len(fields) > 0 {
		if b, err := json.Marshal(fields); err == nil {
			fieldsJSON = b
		}
	}

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		ev := entry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Level:     level,
			Component: component,
			Message:   message,
			Fields:    string(fieldsJSON),
		}
		b, err := json.Marshal(ev)
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}

	if store != nil {
		_ = store.AppendAuditEntry(context.Background(), level, component, message, fieldsJSON)
	}
}
