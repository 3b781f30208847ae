// Package audit records security-relevant document events: decrypts,
// signature submissions, and their failures.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Actions recorded by the vault and signing layers.
const (
	ActionDecrypt     = "document.decrypt"
	ActionDecryptFail = "document.decrypt_fail"
	ActionSign        = "document.sign"
	ActionSignFail    = "document.sign_fail"
)

// Event is one ledger entry. Detail never contains plaintext or key material.
type Event struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Actor      string // caller email
	Action     string
	Detail     string
	At         time.Time
}

// Recorder persists events. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards all events.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) Record(context.Context, Event) error { return nil }

// Memory keeps events in memory, newest last. Used in tests and
// single-process deployments without a database.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

var _ Recorder = (*Memory)(nil)

func NewMemory() *Memory { return &Memory{} }

// Record appends the event, filling ID and At when unset.
func (m *Memory) Record(_ context.Context, ev Event) error {
	if ev.ID.IsNil() {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		ev.ID = id
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of all recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
