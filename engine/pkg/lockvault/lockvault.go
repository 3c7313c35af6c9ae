// Package lockvault lets users lock the base token for credits: an instant tiered reward on
// lock, a periodic reward for every elapsed accrual period and an early-exit royalty when the
// position is unlocked before maturity.
package lockvault

import (
	"errors"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
	"github.com/malbeclabs/gameledger/engine/pkg/calc"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/malbeclabs/gameledger/engine/pkg/ledger"
	"github.com/malbeclabs/gameledger/engine/pkg/token"
)

const (
	ModuleName = "lockvault"

	KindSettings = "lockvault.settings"
	KindPosition = "lockvault.position"

	MintAuthSeed = "gpass_mint_auth"
	TreasurySeed = "treasury_auth"
	PositionSeed = "user_info"
)

var program = authority.MustRegister(ModuleName)

var ProgramID = program.ID()

type Settings struct {
	authority.Governance
	Mint             solana.PublicKey `json:"mint"`
	LedgerSettings   solana.PublicKey `json:"ledger_settings"`
	AccumulativeFund solana.PublicKey `json:"accumulative_fund"`
	Treasury         solana.PublicKey `json:"treasury"`
	MintAuthBump     uint8            `json:"mint_auth_bump"`
	TreasuryAuthBump uint8            `json:"treasury_auth_bump"`

	TotalLocked uint64 `json:"total_locked"`
	ActiveUsers uint64 `json:"active_users"`

	Royalty        uint8            `json:"royalty"`
	UnlockRoyalty  uint8            `json:"unlock_royalty"`
	MaturityPeriod int64            `json:"maturity_period"`
	AccrualPeriod  int64            `json:"accrual_period"`
	RewardTable    calc.RewardTable `json:"reward_table"`
}

func (s *Settings) Validate() error {
	if err := calc.ValidatePercent(s.Royalty); err != nil {
		return err
	}
	if err := calc.ValidatePercent(s.UnlockRoyalty); err != nil {
		return err
	}
	if s.MaturityPeriod <= 0 {
		return ErrZeroPeriod.WithDetail("maturity period")
	}
	if s.AccrualPeriod <= 0 {
		return ErrZeroPeriod.WithDetail("accrual period")
	}
	return s.RewardTable.Validate()
}

type Position struct {
	Owner       solana.PublicKey `json:"owner"`
	Amount      uint64           `json:"amount"`
	LockedAt    int64            `json:"locked_at"`
	LastAccrual int64            `json:"last_accrual"`
}

func (p *Position) Active() bool { return p.Amount > 0 }

type Config struct {
	Logger *slog.Logger
	Ledger *ledger.Ledger
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	return nil
}

type Vault struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Vault{log: cfg.Logger, cfg: cfg}, nil
}

// MintAuthority is the derived key that must be listed as a ledger minter.
func MintAuthority(settings, ledgerSettings solana.PublicKey) (solana.PublicKey, uint8, error) {
	return authority.FindAddress(ProgramID, authority.Label(MintAuthSeed), authority.KeySeed(settings), authority.KeySeed(ledgerSettings))
}

// TreasuryAuthority is the derived owner of the treasury fund holding locked tokens.
func TreasuryAuthority(settings solana.PublicKey) (solana.PublicKey, uint8, error) {
	return authority.FindAddress(ProgramID, authority.Label(TreasurySeed), authority.KeySeed(settings))
}

func PositionAddress(settings, owner solana.PublicKey) (solana.PublicKey, error) {
	key, _, err := authority.FindAddress(ProgramID, authority.Label(PositionSeed), authority.KeySeed(settings), authority.KeySeed(owner))
	return key, err
}

type InitParams struct {
	Admin            solana.PublicKey
	UpdateAuthority  solana.PublicKey
	Mint             solana.PublicKey
	LedgerSettings   solana.PublicKey
	AccumulativeFund solana.PublicKey
	Treasury         solana.PublicKey
	Royalty          uint8
	UnlockRoyalty    uint8
	MaturityPeriod   int64
	AccrualPeriod    int64
	RewardTable      calc.RewardTable
}

func (v *Vault) Initialize(tx host.Tx, key solana.PublicKey, admin authority.Signer, p InitParams) error {
	if err := authority.Require(tx, admin, p.Admin, faults.ErrInvalidAdmin); err != nil {
		return err
	}
	_, mintBump, err := MintAuthority(key, p.LedgerSettings)
	if err != nil {
		return err
	}
	treasuryAuth, treasuryBump, err := TreasuryAuthority(key)
	if err != nil {
		return err
	}
	st := &Settings{
		Governance:       authority.Governance{Admin: p.Admin, UpdateAuthority: p.UpdateAuthority},
		Mint:             p.Mint,
		LedgerSettings:   p.LedgerSettings,
		AccumulativeFund: p.AccumulativeFund,
		Treasury:         p.Treasury,
		MintAuthBump:     mintBump,
		TreasuryAuthBump: treasuryBump,
		Royalty:          p.Royalty,
		UnlockRoyalty:    p.UnlockRoyalty,
		MaturityPeriod:   p.MaturityPeriod,
		AccrualPeriod:    p.AccrualPeriod,
		RewardTable:      p.RewardTable,
	}
	if err := st.Validate(); err != nil {
		return err
	}
	if _, err := v.cfg.Ledger.Settings(tx, p.LedgerSettings); err != nil {
		return err
	}
	if _, err := token.RequireAccount(tx, p.Treasury, p.Mint, treasuryAuth); err != nil {
		return err
	}
	fund, err := token.GetAccount(tx, p.AccumulativeFund)
	if err != nil {
		return err
	}
	if !fund.Mint.Equals(p.Mint) {
		return faults.ErrMintMismatch.WithDetail("accumulative fund")
	}
	if err := host.Init(tx, key, KindSettings, ProgramID, st); err != nil {
		return err
	}
	tx.Emit(ModuleName, "initialized", map[string]any{"settings": key.String()})
	return nil
}

func (v *Vault) Settings(tx host.Tx, key solana.PublicKey) (*Settings, error) {
	return host.Load[Settings](tx, key, KindSettings)
}

// Position returns owner's position, or an inactive one if owner never locked.
func (v *Vault) Position(tx host.Tx, key, owner solana.PublicKey) (*Position, error) {
	addr, err := PositionAddress(key, owner)
	if err != nil {
		return nil, err
	}
	pos, err := host.Load[Position](tx, addr, KindPosition)
	if errors.Is(err, faults.ErrAccountNotFound) {
		return &Position{Owner: owner}, nil
	}
	return pos, err
}

// ActiveUsers returns the number of owners holding an active position.
func (v *Vault) ActiveUsers(tx host.Tx, key solana.PublicKey) (uint64, error) {
	st, err := v.Settings(tx, key)
	if err != nil {
		return 0, err
	}
	return st.ActiveUsers, nil
}

func (v *Vault) savePosition(tx host.Tx, key solana.PublicKey, pos *Position) error {
	addr, err := PositionAddress(key, pos.Owner)
	if err != nil {
		return err
	}
	ok, err := host.Exists(tx, addr)
	if err != nil {
		return err
	}
	if !ok {
		return host.Init(tx, addr, KindPosition, ProgramID, pos)
	}
	return host.Store(tx, addr, KindPosition, ProgramID, pos)
}

func (v *Vault) mintSigner(key solana.PublicKey, st *Settings) (*authority.Derived, error) {
	return program.Signer(st.MintAuthBump, authority.Label(MintAuthSeed), authority.KeySeed(key), authority.KeySeed(st.LedgerSettings))
}

func (v *Vault) treasurySigner(key solana.PublicKey, st *Settings) (*authority.Derived, error) {
	return program.Signer(st.TreasuryAuthBump, authority.Label(TreasurySeed), authority.KeySeed(key))
}

// mintCredits mints amount credits to owner through the vault's ledger capability.
func (v *Vault) mintCredits(tx host.Tx, key solana.PublicKey, st *Settings, owner solana.PublicKey, amount uint64) error {
	if amount == 0 {
		return nil
	}
	signer, err := v.mintSigner(key, st)
	if err != nil {
		return err
	}
	return v.cfg.Ledger.Mint(tx, st.LedgerSettings, owner, signer, amount)
}

type LockReceipt struct {
	Royalty uint64 `json:"royalty"`
	Net     uint64 `json:"net"`
	Reward  uint64 `json:"reward"`
}

// Lock moves amount from the owner's token account into the vault. The entry royalty goes to
// the accumulative fund and the owner is credited the tier reward for the net amount.
func (v *Vault) Lock(tx host.Tx, key solana.PublicKey, owner authority.Signer, from solana.PublicKey, amount uint64) (*LockReceipt, error) {
	if err := owner.Verify(tx); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrZeroLockAmount
	}
	st, err := v.Settings(tx, key)
	if err != nil {
		return nil, err
	}
	pos, err := v.Position(tx, key, owner.Key())
	if err != nil {
		return nil, err
	}
	if pos.Active() {
		return nil, ErrAdditionalLockForbidden
	}

	royalty, err := calc.Royalty(st.Royalty, amount)
	if err != nil {
		return nil, err
	}
	net := amount - royalty
	if net == 0 {
		return nil, ErrZeroLockAmount.WithDetail("nothing left after royalty")
	}
	reward := st.RewardTable.Lookup(net)

	if err := token.Transfer(tx, from, st.AccumulativeFund, owner, royalty); err != nil {
		return nil, err
	}
	if err := token.Transfer(tx, from, st.Treasury, owner, net); err != nil {
		return nil, err
	}
	if err := v.mintCredits(tx, key, st, owner.Key(), reward); err != nil {
		return nil, err
	}

	now := tx.Now().Unix()
	pos.Amount = net
	pos.LockedAt = now
	pos.LastAccrual = now
	if st.TotalLocked, err = calc.CheckedAdd(st.TotalLocked, net); err != nil {
		return nil, err
	}
	st.ActiveUsers++
	if err := v.savePosition(tx, key, pos); err != nil {
		return nil, err
	}
	if err := host.Store(tx, key, KindSettings, ProgramID, st); err != nil {
		return nil, err
	}

	tx.Emit(ModuleName, "locked", map[string]any{"owner": owner.Key().String(), "amount": amount, "royalty": royalty, "net": net, "reward": reward})
	v.log.Debug("lockvault: locked", "owner", owner.Key(), "net", net, "reward", reward)
	return &LockReceipt{Royalty: royalty, Net: net, Reward: reward}, nil
}

type AccrualReceipt struct {
	Periods uint64 `json:"periods"`
	Reward  uint64 `json:"reward"`
}

// accrue credits every whole accrual period elapsed since the last accrual. It mutates pos but
// does not save it.
func (v *Vault) accrue(tx host.Tx, key solana.PublicKey, st *Settings, pos *Position) (*AccrualReceipt, error) {
	elapsed := tx.Now().Unix() - pos.LastAccrual
	if elapsed < st.AccrualPeriod {
		return &AccrualReceipt{}, nil
	}
	periods := uint64(elapsed / st.AccrualPeriod)
	reward, err := calc.CheckedMul(st.RewardTable.Lookup(pos.Amount), periods)
	if err != nil {
		return nil, err
	}
	if err := v.mintCredits(tx, key, st, pos.Owner, reward); err != nil {
		return nil, err
	}
	pos.LastAccrual += int64(periods) * st.AccrualPeriod
	tx.Emit(ModuleName, "accrued", map[string]any{"owner": pos.Owner.String(), "periods": periods, "reward": reward})
	return &AccrualReceipt{Periods: periods, Reward: reward}, nil
}

// CollectAccrued credits the periodic reward. It fails with ErrZeroEarned when no full accrual
// period has elapsed.
func (v *Vault) CollectAccrued(tx host.Tx, key solana.PublicKey, owner authority.Signer) (*AccrualReceipt, error) {
	if err := owner.Verify(tx); err != nil {
		return nil, err
	}
	st, err := v.Settings(tx, key)
	if err != nil {
		return nil, err
	}
	pos, err := v.Position(tx, key, owner.Key())
	if err != nil {
		return nil, err
	}
	if !pos.Active() {
		return nil, ErrZeroAmount
	}
	receipt, err := v.accrue(tx, key, st, pos)
	if err != nil {
		return nil, err
	}
	if receipt.Periods == 0 {
		return nil, ErrZeroEarned
	}
	if err := v.savePosition(tx, key, pos); err != nil {
		return nil, err
	}
	return receipt, nil
}

type UnlockReceipt struct {
	Amount  uint64         `json:"amount"`
	Penalty uint64         `json:"penalty"`
	Payout  uint64         `json:"payout"`
	Accrued AccrualReceipt `json:"accrued"`
}

// Unlock closes the owner's position and pays the locked amount to the token account to,
// collecting any accrued reward first. Unlocking before maturity costs the unlock royalty.
func (v *Vault) Unlock(tx host.Tx, key solana.PublicKey, owner authority.Signer, to solana.PublicKey) (*UnlockReceipt, error) {
	if err := owner.Verify(tx); err != nil {
		return nil, err
	}
	st, err := v.Settings(tx, key)
	if err != nil {
		return nil, err
	}
	pos, err := v.Position(tx, key, owner.Key())
	if err != nil {
		return nil, err
	}
	if !pos.Active() {
		return nil, ErrZeroAmount
	}
	if _, err := token.RequireAccount(tx, to, st.Mint, owner.Key()); err != nil {
		return nil, err
	}

	accrued, err := v.accrue(tx, key, st, pos)
	if err != nil {
		return nil, err
	}

	amount := pos.Amount
	var penalty uint64
	if tx.Now().Unix()-pos.LockedAt < st.MaturityPeriod {
		if penalty, err = calc.Royalty(st.UnlockRoyalty, amount); err != nil {
			return nil, err
		}
	}
	payout := amount - penalty

	signer, err := v.treasurySigner(key, st)
	if err != nil {
		return nil, err
	}
	if err := token.Transfer(tx, st.Treasury, st.AccumulativeFund, signer, penalty); err != nil {
		return nil, err
	}
	if err := token.Transfer(tx, st.Treasury, to, signer, payout); err != nil {
		return nil, err
	}

	if st.TotalLocked, err = calc.CheckedSub(st.TotalLocked, amount); err != nil {
		return nil, err
	}
	if st.ActiveUsers, err = calc.CheckedSub(st.ActiveUsers, 1); err != nil {
		return nil, err
	}
	pos.Amount = 0
	pos.LockedAt = 0
	pos.LastAccrual = 0
	if err := v.savePosition(tx, key, pos); err != nil {
		return nil, err
	}
	if err := host.Store(tx, key, KindSettings, ProgramID, st); err != nil {
		return nil, err
	}

	tx.Emit(ModuleName, "unlocked", map[string]any{"owner": owner.Key().String(), "amount": amount, "penalty": penalty})
	v.log.Debug("lockvault: unlocked", "owner", owner.Key(), "amount", amount, "penalty", penalty)
	return &UnlockReceipt{Amount: amount, Penalty: penalty, Payout: payout, Accrued: *accrued}, nil
}
