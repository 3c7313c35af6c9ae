// Package host is the transaction platform the engine modules run on: atomic all-or-nothing
// execution, keyed account storage tagged with a kind and an owning program, signer
// verification and an event journal.
package host

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Record is one stored account. Only the owning program may overwrite it.
type Record struct {
	Kind  string           `json:"kind"`
	Owner solana.PublicKey `json:"owner"`
	Data  json.RawMessage  `json:"data"`
}

// Event is emitted by a module during a transaction and journaled only if it commits.
type Event struct {
	TxID   uuid.UUID      `json:"tx_id"`
	Seq    int            `json:"seq"`
	Module string         `json:"module"`
	Name   string         `json:"name"`
	Time   time.Time      `json:"time"`
	Attrs  map[string]any `json:"attrs,omitempty"`
}

// Receipt describes a committed transaction.
type Receipt struct {
	TxID   uuid.UUID
	Time   time.Time
	Events []Event
}

// Tx is the view a module gets of one running transaction. Errors returned from the
// transaction function discard every write made through the Tx.
type Tx interface {
	ID() uuid.UUID
	Now() time.Time
	Signers() []solana.PublicKey
	IsSigner(key solana.PublicKey) bool

	Get(key solana.PublicKey) (Record, error)
	Put(key solana.PublicKey, rec Record) error
	Create(key solana.PublicKey, rec Record) error

	Emit(module, name string, attrs map[string]any)
}

type Host interface {
	// Atomic runs fn as one transaction signed by signers.
	Atomic(ctx context.Context, signers []solana.PublicKey, fn func(Tx) error) (*Receipt, error)
	// View runs fn against a consistent snapshot and discards any writes.
	View(ctx context.Context, fn func(Tx) error) error
	Clock() clockwork.Clock
}

// TxContext carries the parts of a transaction that do not depend on the storage backend.
type TxContext struct {
	id      uuid.UUID
	now     time.Time
	signers []solana.PublicKey
	events  []Event
}

func NewTxContext(now time.Time, signers []solana.PublicKey) *TxContext {
	return &TxContext{
		id:      uuid.New(),
		now:     now.UTC().Truncate(time.Second),
		signers: slices.Clone(signers),
	}
}

func (c *TxContext) ID() uuid.UUID  { return c.id }
func (c *TxContext) Now() time.Time { return c.now }

func (c *TxContext) Signers() []solana.PublicKey {
	return slices.Clone(c.signers)
}

func (c *TxContext) IsSigner(key solana.PublicKey) bool {
	return slices.Contains(c.signers, key)
}

func (c *TxContext) Emit(module, name string, attrs map[string]any) {
	c.events = append(c.events, Event{
		TxID:   c.id,
		Seq:    len(c.events),
		Module: module,
		Name:   name,
		Time:   c.now,
		Attrs:  attrs,
	})
}

func (c *TxContext) Events() []Event {
	return c.events
}

func (c *TxContext) Receipt() *Receipt {
	return &Receipt{TxID: c.id, Time: c.now, Events: c.events}
}

// Journal gives read access to committed events.
type Journal interface {
	TxEvents(ctx context.Context, txID uuid.UUID) ([]Event, error)
}
