// Package ledger tracks client-side optimistic actions until the server
// confirms or rejects them.
package ledger

import (
	"sort"
	"sync"
	"time"

	"PPLive/logger"
	"PPLive/tools/errs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Entry is one optimistic action. Payload is whatever the caller staged; it
// is kept after a failure so the action can be retried.
type Entry struct {
	TempID    string
	Payload   any
	Status    Status
	Err       error
	Confirmed any
	StagedAt  time.Time
	Attempts  int
}

// SubmitFunc sends a staged payload to the server. It returns false when the
// payload could not be handed to the transport.
type SubmitFunc func(tempID string, payload any) bool

// Ledger is owned by one client. Confirmed entries are removed; pending and
// failed ones stay until confirmed or discarded.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*Entry
	submit  SubmitFunc
	now     func() time.Time
	onEvent func(Entry)
}

type Option func(*Ledger)

// WithObserver is called after every state change with a copy of the entry.
func WithObserver(fn func(Entry)) Option { return func(l *Ledger) { l.onEvent = fn } }

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func New(submit SubmitFunc, opts ...Option) *Ledger {
	l := &Ledger{
		entries: make(map[string]*Entry),
		submit:  submit,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// NewTempID returns a fresh client temp id.
func NewTempID() string { return "tmp_" + uuid.NewString() }

// Stage records payload as pending under a new temp id and submits it.
func (l *Ledger) Stage(payload any) string {
	return l.StageWithID(NewTempID(), payload)
}

// StageWithID is Stage with a caller-chosen temp id. An id that is already
// tracked is returned unchanged.
func (l *Ledger) StageWithID(tempID string, payload any) string {
	l.mu.Lock()
	if _, ok := l.entries[tempID]; ok {
		l.mu.Unlock()
		return tempID
	}
	e := &Entry{TempID: tempID, Payload: payload, Status: StatusPending, StagedAt: l.now(), Attempts: 1}
	l.entries[tempID] = e
	snap := *e
	l.mu.Unlock()

	l.emit(snap)
	l.send(tempID, payload)
	return tempID
}

// Confirm replaces the optimistic entry with the server entity. Confirming an
// unknown or already confirmed id is a no-op and returns false.
func (l *Ledger) Confirm(tempID string, server any) bool {
	l.mu.Lock()
	e, ok := l.entries[tempID]
	if !ok {
		l.mu.Unlock()
		logger.Debug("ledger: confirm for unknown temp id ignored", zap.String("tempId", tempID))
		return false
	}
	delete(l.entries, tempID)
	e.Status = StatusConfirmed
	e.Err = nil
	e.Confirmed = server
	snap := *e
	l.mu.Unlock()

	l.emit(snap)
	return true
}

// Fail marks a pending entry failed and keeps its payload.
func (l *Ledger) Fail(tempID string, err error) bool {
	l.mu.Lock()
	e, ok := l.entries[tempID]
	if !ok {
		l.mu.Unlock()
		return false
	}
	if err == nil {
		err = errs.ErrInternalServer.WrapMsg("action failed")
	}
	e.Status = StatusFailed
	e.Err = err
	snap := *e
	l.mu.Unlock()

	logger.Warn("ledger: action failed", zap.String("tempId", tempID), zap.Error(err))
	l.emit(snap)
	return true
}

// Retry resubmits a failed entry's payload and puts it back to pending.
func (l *Ledger) Retry(tempID string) error {
	l.mu.Lock()
	e, ok := l.entries[tempID]
	if !ok {
		l.mu.Unlock()
		return errs.ErrRecordNotFound.WrapMsg("no such optimistic entry", "tempId", tempID)
	}
	if e.Status != StatusFailed {
		l.mu.Unlock()
		return errs.ErrArgs.WrapMsg("only failed entries can be retried", "tempId", tempID, "status", e.Status)
	}
	e.Status = StatusPending
	e.Err = nil
	e.Attempts++
	payload := e.Payload
	snap := *e
	l.mu.Unlock()

	l.emit(snap)
	l.send(tempID, payload)
	return nil
}

// Discard forgets the entry. A later Confirm or Fail for it is a no-op.
func (l *Ledger) Discard(tempID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[tempID]; !ok {
		return false
	}
	delete(l.entries, tempID)
	return true
}

func (l *Ledger) Get(tempID string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[tempID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (l *Ledger) Pending() []Entry { return l.filter(StatusPending) }

func (l *Ledger) Failed() []Entry { return l.filter(StatusFailed) }

// Entries returns every tracked entry in staging order.
func (l *Ledger) Entries() []Entry { return l.filter("") }

func (l *Ledger) filter(s Status) []Entry {
	l.mu.Lock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if s == "" || e.Status == s {
			out = append(out, *e)
		}
	}
	l.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].StagedAt.Before(out[j].StagedAt) })
	return out
}

func (l *Ledger) send(tempID string, payload any) {
	if l.submit == nil {
		return
	}
	if !l.submit(tempID, payload) {
		l.Fail(tempID, errs.ErrTransportClosed.WrapMsg("not sent", "tempId", tempID))
	}
}

func (l *Ledger) emit(e Entry) {
	if l.onEvent != nil {
		l.onEvent(e)
	}
}
