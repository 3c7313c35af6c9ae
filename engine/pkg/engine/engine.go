// Package engine composes the ledger modules over one host. Every entry point runs through
// Execute, which commits atomically, records metrics and publishes the committed events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/events"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/malbeclabs/gameledger/engine/pkg/ledger"
	"github.com/malbeclabs/gameledger/engine/pkg/lockvault"
	"github.com/malbeclabs/gameledger/engine/pkg/match"
	"github.com/malbeclabs/gameledger/engine/pkg/metrics"
	"github.com/malbeclabs/gameledger/engine/pkg/rewardgate"
	"github.com/malbeclabs/gameledger/engine/pkg/stakevault"
	"github.com/malbeclabs/gameledger/engine/pkg/treasury"
)

type Config struct {
	Logger    *slog.Logger
	Host      host.Host
	Publisher events.Publisher
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Host == nil {
		return errors.New("host is required")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Discard{}
	}
	return nil
}

type Engine struct {
	log *slog.Logger
	cfg Config

	Ledger     *ledger.Ledger
	LockVault  *lockvault.Vault
	StakeVault *stakevault.Vault
	Treasury   *treasury.Splitter
	RewardGate *rewardgate.Gate
	Match      *match.Match
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger

	l, err := ledger.New(ledger.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}
	lv, err := lockvault.New(lockvault.Config{Logger: log, Ledger: l})
	if err != nil {
		return nil, fmt.Errorf("failed to create lock vault: %w", err)
	}
	sv, err := stakevault.New(stakevault.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("failed to create stake vault: %w", err)
	}
	ts, err := treasury.New(treasury.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("failed to create treasury splitter: %w", err)
	}
	g, err := rewardgate.New(rewardgate.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("failed to create reward gate: %w", err)
	}
	m, err := match.New(match.Config{Logger: log, Ledger: l, LockVault: lv, Gate: g})
	if err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	return &Engine{
		log:        log,
		cfg:        cfg,
		Ledger:     l,
		LockVault:  lv,
		StakeVault: sv,
		Treasury:   ts,
		RewardGate: g,
		Match:      m,
	}, nil
}

func (e *Engine) Host() host.Host {
	return e.cfg.Host
}

// Execute runs fn as one atomic transaction signed by signers. Events are published only after
// the transaction commits; a publication failure is logged and does not fail the call.
func (e *Engine) Execute(ctx context.Context, module, op string, signers []solana.PublicKey, fn func(tx host.Tx) error) (*host.Receipt, error) {
	start := time.Now()
	receipt, err := e.cfg.Host.Atomic(ctx, signers, fn)
	metrics.RecordOperation(module, op, time.Since(start), err)
	if err != nil {
		kind := faults.KindOf(err)
		if kind == faults.KindUnknown {
			e.log.Error("engine: operation failed", "module", module, "op", op, "error", err)
		} else {
			e.log.Debug("engine: operation rejected", "module", module, "op", op, "kind", kind.String(), "error", err)
		}
		return nil, err
	}

	metrics.RecordEvents(receipt.Events)
	if err := e.cfg.Publisher.Publish(ctx, receipt.Events); err != nil {
		metrics.PublishErrorsTotal.Inc()
		e.log.Warn("engine: failed to publish events", "module", module, "op", op, "tx_id", receipt.TxID, "error", err)
	}
	e.log.Debug("engine: operation committed", "module", module, "op", op, "tx_id", receipt.TxID, "events", len(receipt.Events))
	return receipt, nil
}

// View runs fn against a read-only snapshot.
func (e *Engine) View(ctx context.Context, fn func(tx host.Tx) error) error {
	return e.cfg.Host.View(ctx, fn)
}
