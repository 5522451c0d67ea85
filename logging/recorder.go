package logging

import (
	"context"
	"sync"
)

// Entry is a single call captured by Recorder.
type Entry struct {
	Level   string
	Message string
	Keyvals []interface{}
}

// Value returns the value logged for key, or nil.
func (e Entry) Value(key string) interface{} {
	for i := 0; i+1 < len(e.Keyvals); i += 2 {
		if k, ok := e.Keyvals[i].(string); ok && k == key {
			return e.Keyvals[i+1]
		}
	}
	return nil
}

// Recorder is a Logger that captures calls for testing.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Compile-time check that Recorder implements Logger.
var _ Logger = (*Recorder)(nil)

// NewRecorder creates a new Recorder with an empty call history.
func NewRecorder() *Recorder {
	return &Recorder{entries: make([]Entry, 0)}
}

func (r *Recorder) record(level, msg string, keyvals []interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Message: msg, Keyvals: keyvals})
}

func (r *Recorder) Debug(_ context.Context, msg string, keyvals ...interface{}) {
	r.record("debug", msg, keyvals)
}

func (r *Recorder) Info(_ context.Context, msg string, keyvals ...interface{}) {
	r.record("info", msg, keyvals)
}

func (r *Recorder) Warn(_ context.Context, msg string, keyvals ...interface{}) {
	r.record("warn", msg, keyvals)
}

func (r *Recorder) Error(_ context.Context, msg string, keyvals ...interface{}) {
	r.record("error", msg, keyvals)
}

// Entries returns a copy of everything logged so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Messages returns the entries logged with msg.
func (r *Recorder) Messages(msg string) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}
