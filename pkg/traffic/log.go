// Package traffic records every frame and protocol-level error that crosses
// the bus, for diagnostics. The log is append-only and bounded; once the cap
// is reached the oldest entries are evicted.
package traffic

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a log entry.
type Kind string

const (
	KindTx    Kind = "tx"
	KindRx    Kind = "rx"
	KindError Kind = "error"
)

// DefaultCapacity bounds the log when no cap is configured.
const DefaultCapacity = 1000

// Entry is one recorded frame or error.
type Entry struct {
	// ID is a unique entry identifier.
	ID string `json:"id"`

	// Seq is the entry's position in the overall stream, monotonically
	// increasing even across evictions.
	Seq uint64 `json:"seq"`

	// Timestamp is monotonically non-decreasing across entries.
	Timestamp time.Time `json:"timestamp"`

	// Kind is the entry classification.
	Kind Kind `json:"kind"`

	// Bytes is the frame rendered as an uppercase hex byte string, empty
	// for error entries.
	Bytes string `json:"bytes,omitempty"`

	// Detail carries the error message for error entries.
	Detail string `json:"detail,omitempty"`
}

// Export is the structured document produced by a full export.
type Export struct {
	ExportedAt time.Time `json:"exported_at"`
	Dropped    uint64    `json:"dropped"`
	Entries    []Entry   `json:"entries"`
}

// Subscriber receives entries as they are appended. Implementations must not
// block; slow consumers should buffer or drop.
type Subscriber interface {
	OnEntry(e Entry)
}

// Log is a bounded, pausable traffic recorder. It implements the bus
// Recorder contract.
type Log struct {
	mu      sync.RWMutex
	cap     int
	entries []Entry
	seq     uint64
	dropped uint64
	paused  bool
	last    time.Time

	subs []Subscriber
}

// NewLog creates a traffic log holding at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		cap:     capacity,
		entries: make([]Entry, 0, capacity),
	}
}

// RecordTx records a transmitted frame.
func (l *Log) RecordTx(frame []byte) {
	l.append(Entry{Kind: KindTx, Bytes: hexString(frame)})
}

// RecordRx records a received frame.
func (l *Log) RecordRx(frame []byte) {
	l.append(Entry{Kind: KindRx, Bytes: hexString(frame)})
}

// RecordError records a protocol-level error.
func (l *Log) RecordError(err error) {
	l.append(Entry{Kind: KindError, Detail: err.Error()})
}

// Pause stops recording; new entries are dropped silently until Resume.
func (l *Log) Pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
}

// Resume re-enables recording.
func (l *Log) Resume() {
	l.mu.Lock()
	l.paused = false
	l.mu.Unlock()
}

// Paused reports whether the log is currently paused.
func (l *Log) Paused() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.paused
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a snapshot of the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ExportDocument snapshots the full log as a structured document.
func (l *Log) ExportDocument() Export {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	return Export{
		ExportedAt: time.Now(),
		Dropped:    l.dropped,
		Entries:    entries,
	}
}

// Subscribe registers a live entry consumer.
func (l *Log) Subscribe(s Subscriber) {
	l.mu.Lock()
	l.subs = append(l.subs, s)
	l.mu.Unlock()
}

// Unsubscribe removes a consumer.
func (l *Log) Unsubscribe(s Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, sub := range l.subs {
		if sub == s {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			return
		}
	}
}

func (l *Log) append(e Entry) {
	l.mu.Lock()
	if l.paused {
		l.mu.Unlock()
		return
	}

	now := time.Now()
	// Wall clocks can step backwards; the log's timestamps never do.
	if now.Before(l.last) {
		now = l.last
	}
	l.last = now

	l.seq++
	e.ID = uuid.New().String()
	e.Seq = l.seq
	e.Timestamp = now

	if len(l.entries) >= l.cap {
		evict := len(l.entries) - l.cap + 1
		l.entries = append(l.entries[:0], l.entries[evict:]...)
		l.dropped += uint64(evict)
	}
	l.entries = append(l.entries, e)
	subs := make([]Subscriber, len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	for _, s := range subs {
		s.OnEntry(e)
	}
}

// hexString renders bytes as an uppercase, space-separated hex string.
func hexString(data []byte) string {
	var b strings.Builder
	for i, x := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", x)
	}
	return b.String()
}
