// Package rewardgate guards the play-to-earn fund. The fund is owned by a derived authority of
// this module and only callers on the transfer allow-list can move tokens out of it.
package rewardgate

import (
	"errors"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/malbeclabs/gameledger/engine/pkg/token"
)

const (
	ModuleName   = "rewardgate"
	KindSettings = "rewardgate.settings"

	FundSeed = "play_to_earn_fund_auth"

	MaxTransferAuthList = 6
)

var program = authority.MustRegister(ModuleName)

var ProgramID = program.ID()

var (
	ErrZeroTransferAmount = faults.New(faults.KindInvalidParameter, "ZeroTransferAmount", "transfer amount must be non-zero")
	ErrCallerNotAllowed   = faults.New(faults.KindCapabilityDenied, "InvalidTransferAuthority", "caller is not on the transfer allow list")
)

type Settings struct {
	authority.Governance
	Mint             solana.PublicKey    `json:"mint"`
	Fund             solana.PublicKey    `json:"fund"`
	FundAuthBump     uint8               `json:"fund_auth_bump"`
	TransferAuthList authority.AllowList `json:"transfer_auth_list"`
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

type Gate struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{log: cfg.Logger, cfg: cfg}, nil
}

// FundAuthority returns the derived owner the fund account must be handed to.
func FundAuthority(settings solana.PublicKey) (solana.PublicKey, uint8, error) {
	return authority.FindAddress(ProgramID, authority.Label(FundSeed), authority.KeySeed(settings))
}

type InitParams struct {
	Admin            solana.PublicKey
	UpdateAuthority  solana.PublicKey
	Mint             solana.PublicKey
	Fund             solana.PublicKey
	TransferAuthList authority.AllowList
}

func (g *Gate) Initialize(tx host.Tx, key solana.PublicKey, admin authority.Signer, p InitParams) error {
	if err := authority.Require(tx, admin, p.Admin, faults.ErrInvalidAdmin); err != nil {
		return err
	}
	if err := p.TransferAuthList.Validate(MaxTransferAuthList); err != nil {
		return err
	}
	fundAuth, bump, err := FundAuthority(key)
	if err != nil {
		return err
	}
	if _, err := token.RequireAccount(tx, p.Fund, p.Mint, fundAuth); err != nil {
		return err
	}
	st := &Settings{
		Governance:       authority.Governance{Admin: p.Admin, UpdateAuthority: p.UpdateAuthority},
		Mint:             p.Mint,
		Fund:             p.Fund,
		FundAuthBump:     bump,
		TransferAuthList: p.TransferAuthList,
	}
	if err := host.Init(tx, key, KindSettings, ProgramID, st); err != nil {
		return err
	}
	tx.Emit(ModuleName, "initialized", map[string]any{"settings": key.String(), "fund": p.Fund.String()})
	return nil
}

func (g *Gate) Settings(tx host.Tx, key solana.PublicKey) (*Settings, error) {
	return host.Load[Settings](tx, key, KindSettings)
}

// FundBalance returns the tokens currently available for payouts.
func (g *Gate) FundBalance(tx host.Tx, key solana.PublicKey) (uint64, error) {
	st, err := g.Settings(tx, key)
	if err != nil {
		return 0, err
	}
	return token.Balance(tx, st.Fund)
}

// Transfer pays amount from the fund to the token account to. The caller must be on the
// allow-list; the fund authority then signs the movement.
func (g *Gate) Transfer(tx host.Tx, key solana.PublicKey, caller authority.Signer, to solana.PublicKey, amount uint64) error {
	st, err := g.Settings(tx, key)
	if err != nil {
		return err
	}
	if err := st.TransferAuthList.Authorize(tx, caller, ErrCallerNotAllowed); err != nil {
		return err
	}
	if amount == 0 {
		return ErrZeroTransferAmount
	}
	signer, err := program.Signer(st.FundAuthBump, authority.Label(FundSeed), authority.KeySeed(key))
	if err != nil {
		return err
	}
	if err := token.Transfer(tx, st.Fund, to, signer, amount); err != nil {
		return err
	}
	tx.Emit(ModuleName, "paid", map[string]any{"caller": caller.Key().String(), "to": to.String(), "amount": amount})
	g.log.Debug("rewardgate: paid", "caller", caller.Key(), "to", to, "amount", amount)
	return nil
}

func (g *Gate) update(tx host.Tx, key solana.PublicKey, signer authority.Signer, role authority.Role, field string, mutate func(*Settings) error) error {
	st, err := g.Settings(tx, key)
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
	g.log.Info("rewardgate: settings updated", "settings", key, "field", field)
	return nil
}

func (g *Gate) UpdateAdmin(tx host.Tx, key solana.PublicKey, admin authority.Signer, next solana.PublicKey) error {
	return g.update(tx, key, admin, authority.RoleAdmin, "admin", func(st *Settings) error {
		st.Admin = next
		return nil
	})
}

func (g *Gate) SetUpdateAuthority(tx host.Tx, key solana.PublicKey, admin authority.Signer, next solana.PublicKey) error {
	return g.update(tx, key, admin, authority.RoleAdmin, "update_authority", func(st *Settings) error {
		st.UpdateAuthority = next
		return nil
	})
}

// UpdateTransferAuthList replaces the allow-list of callers that may trigger payouts.
func (g *Gate) UpdateTransferAuthList(tx host.Tx, key solana.PublicKey, updater authority.Signer, list authority.AllowList) error {
	return g.update(tx, key, updater, authority.RoleUpdateAuthority, "transfer_auth_list", func(st *Settings) error {
		if err := list.Validate(MaxTransferAuthList); err != nil {
			return err
		}
		st.TransferAuthList = list
		return nil
	})
}
