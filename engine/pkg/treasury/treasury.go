// Package treasury drains the accumulative fund into a fixed list of destination funds by
// percentage share. The last destination absorbs the remainder so the source always empties.
package treasury

import (
	"errors"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
	"github.com/malbeclabs/gameledger/engine/pkg/calc"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/malbeclabs/gameledger/engine/pkg/token"
)

const (
	ModuleName   = "treasury"
	KindSettings = "treasury.settings"

	SourceSeed = "accumulative_fund_auth"

	MaxDestinations = 8
)

var program = authority.MustRegister(ModuleName)

var ProgramID = program.ID()

var (
	ErrEmptyAccumulativeFund = faults.New(faults.KindStateConflict, "EmptyAccumulativeFund", "accumulative fund is empty")
	ErrInvalidDestinations   = faults.New(faults.KindInvalidParameter, "InvalidDestinations", "destination list is invalid")
)

type Destination struct {
	Fund  solana.PublicKey `json:"fund"`
	Share uint8            `json:"share"`
}

type Settings struct {
	authority.Governance
	Mint             solana.PublicKey `json:"mint"`
	Source           solana.PublicKey `json:"source"`
	SourceAuthBump   uint8            `json:"source_auth_bump"`
	Destinations     []Destination    `json:"destinations"`
	LastDistribution int64            `json:"last_distribution"`
}

// Distribution reports one distribute call. Amounts is parallel to the destinations.
type Distribution struct {
	Total   uint64   `json:"total"`
	Amounts []uint64 `json:"amounts"`
}

type Config struct {
	Logger *slog.Logger
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

type Splitter struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Splitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Splitter{log: cfg.Logger, cfg: cfg}, nil
}

// SourceAuthority returns the derived owner the accumulative fund must be handed to.
func SourceAuthority(settings solana.PublicKey) (solana.PublicKey, uint8, error) {
	return authority.FindAddress(ProgramID, authority.Label(SourceSeed), authority.KeySeed(settings))
}

// validateDestinations checks shares and funds. The source is never a destination.
func validateDestinations(tx host.Tx, mint, source solana.PublicKey, dests []Destination) error {
	if len(dests) == 0 || len(dests) > MaxDestinations {
		return ErrInvalidDestinations.WithDetail("%d destinations, want 1..%d", len(dests), MaxDestinations)
	}
	for _, d := range dests {
		if d.Fund.Equals(source) {
			return ErrInvalidDestinations.WithDetail("source %s is listed as a destination", source)
		}
		if err := calc.ValidatePercent(d.Share); err != nil {
			return err
		}
		acct, err := token.GetAccount(tx, d.Fund)
		if err != nil {
			return err
		}
		if !acct.Mint.Equals(mint) {
			return faults.ErrMintMismatch.WithDetail("destination %s", d.Fund)
		}
	}
	return nil
}

type InitParams struct {
	Admin           solana.PublicKey
	UpdateAuthority solana.PublicKey
	Mint            solana.PublicKey
	Source          solana.PublicKey
	Destinations    []Destination
}

func (s *Splitter) Initialize(tx host.Tx, key solana.PublicKey, admin authority.Signer, p InitParams) error {
	if err := authority.Require(tx, admin, p.Admin, faults.ErrInvalidAdmin); err != nil {
		return err
	}
	sourceAuth, bump, err := SourceAuthority(key)
	if err != nil {
		return err
	}
	if _, err := token.RequireAccount(tx, p.Source, p.Mint, sourceAuth); err != nil {
		return err
	}
	if err := validateDestinations(tx, p.Mint, p.Source, p.Destinations); err != nil {
		return err
	}
	st := &Settings{
		Governance:     authority.Governance{Admin: p.Admin, UpdateAuthority: p.UpdateAuthority},
		Mint:           p.Mint,
		Source:         p.Source,
		SourceAuthBump: bump,
		Destinations:   p.Destinations,
	}
	if err := host.Init(tx, key, KindSettings, ProgramID, st); err != nil {
		return err
	}
	tx.Emit(ModuleName, "initialized", map[string]any{"settings": key.String(), "destinations": len(p.Destinations)})
	return nil
}

func (s *Splitter) Settings(tx host.Tx, key solana.PublicKey) (*Settings, error) {
	return host.Load[Settings](tx, key, KindSettings)
}

// Split computes the per-destination amounts for balance. Every destination but the last gets
// floor(balance * share / 100); the last gets whatever is left.
func Split(balance uint64, dests []Destination) ([]uint64, error) {
	amounts := make([]uint64, len(dests))
	remaining := balance
	for i, d := range dests[:len(dests)-1] {
		amt, err := calc.Royalty(d.Share, balance)
		if err != nil {
			return nil, err
		}
		if amt > remaining {
			amt = remaining
		}
		amounts[i] = amt
		remaining -= amt
	}
	amounts[len(dests)-1] = remaining
	return amounts, nil
}

// Distribute drains the accumulative fund. Anyone may call it.
func (s *Splitter) Distribute(tx host.Tx, key solana.PublicKey) (*Distribution, error) {
	st, err := s.Settings(tx, key)
	if err != nil {
		return nil, err
	}
	balance, err := token.Balance(tx, st.Source)
	if err != nil {
		return nil, err
	}
	if balance == 0 {
		return nil, ErrEmptyAccumulativeFund
	}
	amounts, err := Split(balance, st.Destinations)
	if err != nil {
		return nil, err
	}

	signer, err := program.Signer(st.SourceAuthBump, authority.Label(SourceSeed), authority.KeySeed(key))
	if err != nil {
		return nil, err
	}
	for i, d := range st.Destinations {
		if err := token.Transfer(tx, st.Source, d.Fund, signer, amounts[i]); err != nil {
			return nil, err
		}
	}

	st.LastDistribution = tx.Now().Unix()
	if err := host.Store(tx, key, KindSettings, ProgramID, st); err != nil {
		return nil, err
	}
	tx.Emit(ModuleName, "distributed", map[string]any{"settings": key.String(), "total": balance, "amounts": amounts})
	s.log.Info("treasury: distributed", "settings", key, "total", balance)
	return &Distribution{Total: balance, Amounts: amounts}, nil
}

func (s *Splitter) update(tx host.Tx, key solana.PublicKey, signer authority.Signer, role authority.Role, field string, mutate func(*Settings) error) error {
	st, err := s.Settings(tx, key)
	if err != nil {
		return err
	}
	if err := st.Require(tx, signer, role); err != nil {
		return err
	}
	if err := mutate(st); err != nil {
		return err
	}
	if err := host.Store(tx, key, KindSettings, ProgramID, st); err != nil {
		return err
	}
	tx.Emit(ModuleName, "settings_updated", map[string]any{"settings": key.String(), "field": field})
	s.log.Info("treasury: settings updated", "settings", key, "field", field)
	return nil
}

func (s *Splitter) UpdateAdmin(tx host.Tx, key solana.PublicKey, admin authority.Signer, next solana.PublicKey) error {
	return s.update(tx, key, admin, authority.RoleAdmin, "admin", func(st *Settings) error {
		st.Admin = next
		return nil
	})
}

func (s *Splitter) SetUpdateAuthority(tx host.Tx, key solana.PublicKey, admin authority.Signer, next solana.PublicKey) error {
	return s.update(tx, key, admin, authority.RoleAdmin, "update_authority", func(st *Settings) error {
		st.UpdateAuthority = next
		return nil
	})
}

// UpdateShares replaces the destination list.
func (s *Splitter) UpdateShares(tx host.Tx, key solana.PublicKey, updater authority.Signer, dests []Destination) error {
	return s.update(tx, key, updater, authority.RoleUpdateAuthority, "destinations", func(st *Settings) error {
		if err := validateDestinations(tx, st.Mint, st.Source, dests); err != nil {
			return err
		}
		st.Destinations = dests
		return nil
	})
}
