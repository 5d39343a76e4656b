package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"assetforge/internal/domain"
)

const (
	fieldSeparator = " | "
	minColumns     = 5
)

// RecoveryEntry is one successful generation as written to the recovery log.
type RecoveryEntry struct {
	Timestamp    time.Time
	Status       domain.RemoteStatus
	ExternalID   string
	Prompt       string
	ResultURI    string
	Provider     domain.Provider
	CanonicalKey string
}

// RecoveryLog appends one line per successful generation to a local file. It
// is written independently of the artifact store so a lost store write can be
// replayed on the next start.
type RecoveryLog struct {
	mu   sync.Mutex
	path string
}

// NewRecoveryLog prepares the parent directory of path.
func NewRecoveryLog(path string) (*RecoveryLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage: recovery log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure directory: %w", err)
	}
	return &RecoveryLog{path: path}, nil
}

// Path returns the file the log writes to.
func (l *RecoveryLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes entry as a single line. Concurrent appends never interleave.
func (l *RecoveryLog) Append(ctx context.Context, entry RecoveryEntry) error {
	if l == nil {
		return errors.New("storage: no recovery log configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Status == "" {
		entry.Status = domain.RemoteStatusSuccess
	}
	line := formatEntry(entry)

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("storage: open recovery log: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("storage: append recovery log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("storage: close recovery log: %w", err)
	}
	return nil
}

// ReadRecoveryLog parses every well-formed line of the log at path. A missing
// file yields no entries. Malformed lines are counted and skipped.
func ReadRecoveryLog(path string) ([]RecoveryEntry, int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("storage: open recovery log: %w", err)
	}
	defer f.Close()

	var (
		entries []RecoveryEntry
		skipped int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseEntry(line)
		if err != nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, skipped, fmt.Errorf("storage: read recovery log: %w", err)
	}
	return entries, skipped, nil
}

func formatEntry(e RecoveryEntry) string {
	cols := []string{
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.Status),
		e.ExternalID,
		e.Prompt,
		e.ResultURI,
		string(e.Provider),
		e.CanonicalKey,
	}
	for i, c := range cols {
		cols[i] = escapeField(c)
	}
	return strings.Join(cols, fieldSeparator) + "\n"
}

func parseEntry(line string) (RecoveryEntry, error) {
	cols := strings.Split(line, "|")
	if len(cols) < minColumns {
		return RecoveryEntry{}, fmt.Errorf("storage: expected at least %d columns, got %d", minColumns, len(cols))
	}
	for i, c := range cols {
		cols[i] = unescapeField(strings.TrimSpace(c))
	}
	ts, err := time.Parse(time.RFC3339Nano, cols[0])
	if err != nil {
		return RecoveryEntry{}, fmt.Errorf("storage: timestamp: %w", err)
	}
	entry := RecoveryEntry{
		Timestamp:  ts,
		Status:     domain.RemoteStatus(strings.ToUpper(cols[1])),
		ExternalID: cols[2],
		Prompt:     cols[3],
		ResultURI:  cols[4],
	}
	if len(cols) > 5 {
		entry.Provider = domain.Provider(cols[5])
	}
	if len(cols) > 6 {
		entry.CanonicalKey = cols[6]
	}
	if entry.ResultURI == "" {
		return RecoveryEntry{}, errors.New("storage: empty result uri")
	}
	return entry, nil
}

var (
	fieldEscaper   = strings.NewReplacer(`\`, `\\`, "|", `\p`, "\n", `\n`, "\r", `\r`)
	fieldUnescaper = strings.NewReplacer(`\\`, `\`, `\p`, "|", `\n`, "\n", `\r`, "\r")
)

func escapeField(s string) string {
	return fieldEscaper.Replace(s)
}

func unescapeField(s string) string {
	return fieldUnescaper.Replace(s)
}
