// Package audit provides the engine's append-only audit log. Records are
// chained with an HMAC so deletion, reordering, or edits are detectable.
package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// MinAuditDiskSpace is the free space required before appending a record.
const MinAuditDiskSpace = 1024 * 1024

// Operation types
const (
	OpVaultCreate       = "vault.create"
	OpVaultVerify       = "vault.verify"
	OpVaultVerifyFailed = "vault.verify_failed"
	OpEntryList         = "entry.list"
	OpEntryFetch        = "entry.fetch"
	OpEntryAdd          = "entry.add"
	OpEntryDelete       = "entry.delete"
)

// Source identifies which front door the engine call came through.
const (
	SourceLocal = "local"
	SourceMCP   = "mcp"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

const (
	genesisHash   = "genesis"
	chainFileName = "audit.meta"
	hkdfInfo      = "cyfer-audit-v1"
)

// ErrKeyNotSet is returned when writing or verifying without an HMAC key.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is a single audit record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"`

	Operation string `json:"op"`
	// Entry is the HMAC of the entry name, never the name itself.
	Entry string `json:"entry,omitempty"`

	Source    string `json:"source"`
	ProcessID string `json:"process_id"`

	Result string     `json:"result"`
	Error  *ErrorInfo `json:"error,omitempty"`

	Context map[string]any `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// chainState is persisted after every write so the chain survives restarts.
type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// Logger appends chained records under a directory, one JSONL file per month.
type Logger struct {
	path      string
	processID string

	mu      sync.Mutex
	hmacKey []byte
}

// NewLogger returns a logger writing under path. Nothing is written until
// SetHMACKey has been called.
func NewLogger(path string) *Logger {
	return &Logger{
		path:      path,
		processID: randomHex(16),
	}
}

// Path returns the audit log directory path
func (l *Logger) Path() string {
	return l.path
}

// SetHMACKey derives the record key from the vault's data key via HKDF.
func (l *Logger) SetHMACKey(dataKey []byte) error {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, dataKey, nil, []byte(hkdfInfo))
	if _, err := r.Read(key); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	wipe(l.hmacKey)
	l.hmacKey = key
	return nil
}

// ClearHMACKey wipes the record key. Subsequent writes fail with ErrKeyNotSet.
func (l *Logger) ClearHMACKey() {
	l.mu.Lock()
	defer l.mu.Unlock()
	wipe(l.hmacKey)
	l.hmacKey = nil
}

// Log appends one record.
func (l *Logger) Log(op, source, result, entry string, errInfo *ErrorInfo, ctx map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return ErrKeyNotSet
	}

	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	state, err := l.loadChainState()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	event := Event{
		Version:   1,
		ID:        newEventID(now),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: op,
		Source:    source,
		ProcessID: l.processID,
		Result:    result,
		Error:     errInfo,
		Context:   ctx,
	}
	if entry != "" {
		event.Entry = l.mac([]byte(entry))
	}

	event.Chain.Sequence = state.Sequence + 1
	event.Chain.PrevHash = state.PrevHash
	event.Chain.HMAC = l.mac(recordData(&event))

	if err := l.appendEvent(now, &event); err != nil {
		return err
	}
	return l.saveChainState(chainState{Sequence: event.Chain.Sequence, PrevHash: event.Chain.HMAC})
}

// LogSuccess is a convenience method for successful operations
func (l *Logger) LogSuccess(op, source, entry string) error {
	return l.Log(op, source, ResultSuccess, entry, nil, nil)
}

// LogError is a convenience method for failed operations
func (l *Logger) LogError(op, source, entry, code, msg string) error {
	return l.Log(op, source, ResultError, entry, &ErrorInfo{Code: code, Message: msg}, nil)
}

// LogDenied is a convenience method for policy denials
func (l *Logger) LogDenied(op, source, entry, reason string) error {
	return l.Log(op, source, ResultDenied, entry, nil, map[string]any{"reason": reason})
}

// Verify walks every record in order and checks sequence, linkage and HMAC.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrKeyNotSet
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	prev := genesisHash
	var seq int64 = 1
	for i := range events {
		event := &events[i]
		result.RecordsTotal++

		if event.Chain.Sequence != seq {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d", event.ID, seq, event.Chain.Sequence))
		}
		if event.Chain.PrevHash != prev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s", event.ID))
		}
		if !hmac.Equal([]byte(event.Chain.HMAC), []byte(l.mac(recordData(event)))) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", event.ID))
		} else {
			result.RecordsVerified++
		}

		prev = event.Chain.HMAC
		seq++
	}
	return result, nil
}

// ListEvents returns the most recent limit events after since.
// A zero limit returns all; a zero since disables the time filter.
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	if !since.IsZero() {
		filtered := events[:0]
		for _, event := range events {
			ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err != nil {
				continue
			}
			if ts.After(since) {
				filtered = append(filtered, event)
			}
		}
		events = filtered
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// recordData serializes every field covered by the record HMAC.
func recordData(event *Event) []byte {
	var ctx strings.Builder
	if len(event.Context) > 0 {
		keys := make([]string, 0, len(event.Context))
		for k := range event.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&ctx, "%s=%v|", k, event.Context[k])
		}
	}

	errData := ""
	if event.Error != nil {
		errData = event.Error.Code + "|" + event.Error.Message
	}

	return fmt.Appendf(nil, "%d|%s|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Entry,
		event.Source,
		event.ProcessID,
		event.Result,
		errData,
		ctx.String(),
		event.Chain.Sequence,
		event.Chain.PrevHash,
	)
}

func (l *Logger) mac(data []byte) string {
	m := hmac.New(sha256.New, l.hmacKey)
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil))
}

func (l *Logger) appendEvent(now time.Time, event *Event) error {
	name := filepath.Join(l.path, now.Format("2006-01")+".jsonl")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

// readAll returns every record across all monthly files in chronological order.
func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM names sort chronologically
	sort.Strings(files)

	var events []Event
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var event Event
			if err := json.Unmarshal(line, &event); err != nil {
				return nil, fmt.Errorf("audit: failed to parse %s: %w", file, err)
			}
			events = append(events, event)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("audit: failed to scan %s: %w", file, err)
		}
	}
	return events, nil
}

func (l *Logger) loadChainState() (chainState, error) {
	data, err := os.ReadFile(filepath.Join(l.path, chainFileName))
	if errors.Is(err, os.ErrNotExist) {
		return chainState{PrevHash: genesisHash}, nil
	}
	if err != nil {
		return chainState{}, fmt.Errorf("audit: failed to read chain state: %w", err)
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return chainState{}, fmt.Errorf("audit: chain state is corrupted: %w", err)
	}
	return state, nil
}

func (l *Logger) saveChainState(state chainState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.path, chainFileName), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// newEventID returns a time-sortable ID: 48-bit millisecond timestamp
// followed by 80 random bits, hex encoded.
func newEventID(now time.Time) string {
	ts := uint64(now.UnixMilli())
	b := make([]byte, 16)
	for i := 5; i >= 0; i-- {
		b[i] = byte(ts)
		ts >>= 8
	}
	if _, err := rand.Read(b[6:]); err != nil {
		return fmt.Sprintf("%d", now.UnixNano())
	}
	return hex.EncodeToString(b)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("proc-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
