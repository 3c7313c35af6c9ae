// Package pghost implements the transaction host on PostgreSQL. Every transaction runs at
// SERIALIZABLE isolation and locks the rows it reads; serialization failures are retried.
package pghost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/malbeclabs/gameledger/utils/pkg/retry"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Clock  clockwork.Clock
	Retry  retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Config{
			MaxAttempts: 5,
			BaseBackoff: 10 * time.Millisecond,
			MaxBackoff:  250 * time.Millisecond,
		}
	}
	cfg.Retry.Retryable = IsSerializationFailure
	return nil
}

type Host struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Host{log: cfg.Logger, cfg: cfg}, nil
}

func (h *Host) Clock() clockwork.Clock {
	return h.cfg.Clock
}

func (h *Host) Atomic(ctx context.Context, signers []solana.PublicKey, fn func(host.Tx) error) (*host.Receipt, error) {
	var receipt *host.Receipt
	attempts := 0
	err := retry.Do(ctx, h.cfg.Retry, func() error {
		attempts++
		r, err := h.run(ctx, signers, fn, pgx.ReadWrite)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		h.log.Debug("pghost: transaction aborted", "attempts", attempts, "error", err)
		return nil, err
	}
	if attempts > 1 {
		h.log.Info("pghost: transaction committed after retry", "tx", receipt.TxID, "attempts", attempts)
	}
	return receipt, nil
}

func (h *Host) View(ctx context.Context, fn func(host.Tx) error) error {
	_, err := h.run(ctx, nil, fn, pgx.ReadOnly)
	return err
}

func (h *Host) run(ctx context.Context, signers []solana.PublicKey, fn func(host.Tx) error, mode pgx.TxAccessMode) (*host.Receipt, error) {
	dbtx, err := h.cfg.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: mode})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = dbtx.Rollback(ctx) }()

	tx := &pgTx{
		TxContext: host.NewTxContext(h.cfg.Clock.Now(), signers),
		ctx:       ctx,
		dbtx:      dbtx,
		readOnly:  mode == pgx.ReadOnly,
		cache:     make(map[solana.PublicKey]host.Record),
	}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if tx.readOnly {
		return tx.Receipt(), nil
	}

	for _, ev := range tx.Events() {
		attrs, err := json.Marshal(ev.Attrs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event attrs: %w", err)
		}
		if _, err := dbtx.Exec(ctx,
			`INSERT INTO events (tx_id, seq, module, name, attrs, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			ev.TxID, ev.Seq, ev.Module, ev.Name, attrs, ev.Time,
		); err != nil {
			return nil, fmt.Errorf("failed to journal event: %w", err)
		}
	}

	if err := dbtx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return tx.Receipt(), nil
}

func (h *Host) TxEvents(ctx context.Context, txID uuid.UUID) ([]host.Event, error) {
	rows, err := h.cfg.Pool.Query(ctx,
		`SELECT seq, module, name, attrs, created_at FROM events WHERE tx_id = $1 ORDER BY seq`, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []host.Event
	for rows.Next() {
		ev := host.Event{TxID: txID}
		var attrs []byte
		if err := rows.Scan(&ev.Seq, &ev.Module, &ev.Name, &attrs, &ev.Time); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &ev.Attrs); err != nil {
				return nil, fmt.Errorf("failed to decode event attrs: %w", err)
			}
		}
		ev.Time = ev.Time.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// IsSerializationFailure reports whether err is a PostgreSQL conflict that is safe to retry.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
	}
	return false
}

type pgTx struct {
	*host.TxContext
	ctx      context.Context
	dbtx     pgx.Tx
	readOnly bool
	cache    map[solana.PublicKey]host.Record
}

func (tx *pgTx) Get(key solana.PublicKey) (host.Record, error) {
	if rec, ok := tx.cache[key]; ok {
		return rec, nil
	}

	query := `SELECT kind, owner, data FROM accounts WHERE key = $1`
	if !tx.readOnly {
		query += ` FOR UPDATE`
	}
	var (
		rec   host.Record
		owner string
	)
	err := tx.dbtx.QueryRow(tx.ctx, query, key.String()).Scan(&rec.Kind, &owner, &rec.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return host.Record{}, faults.ErrAccountNotFound.WithDetail("%s", key)
	}
	if err != nil {
		return host.Record{}, fmt.Errorf("failed to read account %s: %w", key, err)
	}
	rec.Owner, err = solana.PublicKeyFromBase58(owner)
	if err != nil {
		return host.Record{}, fmt.Errorf("failed to parse owner of %s: %w", key, err)
	}
	tx.cache[key] = rec
	return rec, nil
}

func (tx *pgTx) Put(key solana.PublicKey, rec host.Record) error {
	existing, err := tx.Get(key)
	if err != nil {
		return err
	}
	if err := host.CheckOwner(key, existing, rec); err != nil {
		return err
	}
	if _, err := tx.dbtx.Exec(tx.ctx,
		`UPDATE accounts SET kind = $2, owner = $3, data = $4, updated_at = now() WHERE key = $1`,
		key.String(), rec.Kind, rec.Owner.String(), []byte(rec.Data),
	); err != nil {
		return fmt.Errorf("failed to write account %s: %w", key, err)
	}
	tx.cache[key] = rec
	return nil
}

func (tx *pgTx) Create(key solana.PublicKey, rec host.Record) error {
	tag, err := tx.dbtx.Exec(tx.ctx,
		`INSERT INTO accounts (key, kind, owner, data) VALUES ($1, $2, $3, $4) ON CONFLICT (key) DO NOTHING`,
		key.String(), rec.Kind, rec.Owner.String(), []byte(rec.Data),
	)
	if err != nil {
		return fmt.Errorf("failed to create account %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return faults.ErrAccountExists.WithDetail("%s", key)
	}
	tx.cache[key] = rec
	return nil
}
