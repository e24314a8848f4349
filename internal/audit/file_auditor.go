package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/guillermoBallester/tenantline/internal/core/port"
	"gopkg.in/natefinch/lumberjack.v2"
)

// fileEntry is the NDJSON-serializable form of an audit record.
type fileEntry struct {
	ID           string  `json:"id"`
	Timestamp    string  `json:"ts"`
	Tool         string  `json:"tool"`
	Tenant       string  `json:"tenant,omitempty"`
	Mode         string  `json:"mode"`
	SQL          string  `json:"sql"`
	RewrittenSQL string  `json:"rewritten_sql,omitempty"`
	RowsReturned int     `json:"rows_returned"`
	DurationMS   int64   `json:"duration_ms"`
	Error        *string `json:"error"`
}

// FileAuditor writes audit entries as NDJSON (one JSON object per line).
type FileAuditor struct {
	mu  sync.Mutex
	out io.WriteCloser
	enc *json.Encoder
}

// NewFileAuditor opens (or creates) the file at path for append-only writing.
func NewFileAuditor(path string) (*FileAuditor, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return newAuditor(f), nil
}

// NewRotatingFileAuditor writes to path and rotates the file once it grows
// past maxSizeMB, keeping a bounded number of compressed backups.
func NewRotatingFileAuditor(path string, maxSizeMB int) *FileAuditor {
	return newAuditor(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})
}

// Open picks the rotating auditor when maxSizeMB is positive.
func Open(path string, maxSizeMB int) (*FileAuditor, error) {
	if maxSizeMB > 0 {
		return NewRotatingFileAuditor(path, maxSizeMB), nil
	}
	return NewFileAuditor(path)
}

func newAuditor(out io.WriteCloser) *FileAuditor {
	return &FileAuditor{out: out, enc: json.NewEncoder(out)}
}

func (a *FileAuditor) Record(_ context.Context, entry port.AuditEntry) {
	fe := fileEntry{
		ID:           entry.ID,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Tool:         entry.Tool,
		Tenant:       entry.Tenant,
		Mode:         entry.Mode,
		SQL:          entry.SQL,
		RewrittenSQL: entry.RewrittenSQL,
		RowsReturned: entry.RowsReturned,
		DurationMS:   entry.DurationMS,
	}
	if entry.Err != nil {
		s := entry.Err.Error()
		fe.Error = &s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.enc.Encode(fe) // best-effort; don't fail the request for audit I/O
}

func (a *FileAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.out.Close()
}
