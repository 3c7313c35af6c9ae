package host

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
)

type MemoryConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
}

func (cfg *MemoryConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Memory is an in-process host. Transactions are serialized by a mutex and their writes are
// buffered in an overlay that is merged only when the transaction function succeeds.
type Memory struct {
	log *slog.Logger
	cfg MemoryConfig

	mu       sync.Mutex
	accounts map[solana.PublicKey]Record
	journal  []Event
}

func NewMemory(cfg MemoryConfig) (*Memory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Memory{
		log:      cfg.Logger,
		cfg:      cfg,
		accounts: make(map[solana.PublicKey]Record),
	}, nil
}

func (m *Memory) Clock() clockwork.Clock {
	return m.cfg.Clock
}

func (m *Memory) Atomic(ctx context.Context, signers []solana.PublicKey, fn func(Tx) error) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.begin(signers)
	if err := fn(tx); err != nil {
		m.log.Debug("host/memory: transaction aborted", "tx", tx.ID(), "error", err)
		return nil, err
	}

	maps.Copy(m.accounts, tx.writes)
	m.journal = append(m.journal, tx.Events()...)
	m.log.Debug("host/memory: transaction committed", "tx", tx.ID(), "writes", len(tx.writes), "events", len(tx.Events()))
	return tx.Receipt(), nil
}

func (m *Memory) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return fn(m.begin(nil))
}

// Journal returns every committed event in commit order.
func (m *Memory) Journal() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.journal))
	copy(out, m.journal)
	return out
}

func (m *Memory) begin(signers []solana.PublicKey) *memoryTx {
	return &memoryTx{
		TxContext: NewTxContext(m.cfg.Clock.Now(), signers),
		base:      m.accounts,
		writes:    make(map[solana.PublicKey]Record),
	}
}

type memoryTx struct {
	*TxContext
	base   map[solana.PublicKey]Record
	writes map[solana.PublicKey]Record
}

func (tx *memoryTx) Get(key solana.PublicKey) (Record, error) {
	if rec, ok := tx.writes[key]; ok {
		return rec, nil
	}
	if rec, ok := tx.base[key]; ok {
		return rec, nil
	}
	return Record{}, faults.ErrAccountNotFound.WithDetail("%s", key)
}

func (tx *memoryTx) Put(key solana.PublicKey, rec Record) error {
	existing, err := tx.Get(key)
	if err != nil {
		return err
	}
	if err := CheckOwner(key, existing, rec); err != nil {
		return err
	}
	tx.writes[key] = rec
	return nil
}

func (tx *memoryTx) Create(key solana.PublicKey, rec Record) error {
	if _, err := tx.Get(key); err == nil {
		return faults.ErrAccountExists.WithDetail("%s", key)
	}
	tx.writes[key] = rec
	return nil
}

func (m *Memory) TxEvents(ctx context.Context, txID uuid.UUID) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.journal {
		if ev.TxID == txID {
			out = append(out, ev)
		}
	}
	return out, nil
}
