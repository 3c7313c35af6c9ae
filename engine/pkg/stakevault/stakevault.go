// Package stakevault holds staked base tokens and pays compounding interest whose APR steps
// down every epoch.
package stakevault

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
	ModuleName = "stakevault"

	KindSettings = "stakevault.settings"
	KindPosition = "stakevault.position"

	TreasurySeed   = "treasury_auth"
	RewardFundSeed = "staking_fund_auth"
	PositionSeed   = "user_info"
)

var program = authority.MustRegister(ModuleName)

var ProgramID = program.ID()

type Settings struct {
	authority.Governance
	Mint               solana.PublicKey `json:"mint"`
	AccumulativeFund   solana.PublicKey `json:"accumulative_fund"`
	Treasury           solana.PublicKey `json:"treasury"`
	RewardFund         solana.PublicKey `json:"reward_fund"`
	TreasuryAuthBump   uint8            `json:"treasury_auth_bump"`
	RewardFundAuthBump uint8            `json:"reward_fund_auth_bump"`

	TotalStaked uint64 `json:"total_staked"`

	StartTime       int64  `json:"start_time"`
	EpochPeriodDays uint32 `json:"epoch_period_days"`
	MinStake        uint64 `json:"min_stake"`
	HoldPeriodDays  uint32 `json:"hold_period_days"`
	HoldRoyalty     uint8  `json:"hold_royalty"`
	Royalty         uint8  `json:"royalty"`
	APRStart        uint8  `json:"apr_start"`
	APRStep         uint8  `json:"apr_step"`
	APRFloor        uint8  `json:"apr_floor"`
}

func (s *Settings) Validate() error {
	if s.EpochPeriodDays == 0 {
		return ErrInvalidEpochPeriodDays
	}
	if s.MinStake == 0 {
		return ErrInvalidMinStakeAmount
	}
	if s.HoldPeriodDays == 0 {
		return ErrInvalidHoldPeriodDays
	}
	if err := calc.ValidatePercent(s.HoldRoyalty); err != nil {
		return err
	}
	if err := calc.ValidatePercent(s.Royalty); err != nil {
		return err
	}
	return validateAPR(s.APRStart, s.APRStep, s.APRFloor)
}

func validateAPR(start, step, floor uint8) error {
	for _, pct := range []uint8{start, step, floor} {
		if err := calc.ValidatePercent(pct); err != nil {
			return err
		}
	}
	if step == 0 {
		return ErrInvalidAPR.WithDetail("step must be non-zero")
	}
	if floor > start {
		return ErrInvalidAPR.WithDetail("floor %d above start %d", floor, start)
	}
	return nil
}

// CurrentEpoch returns the 1-based epoch at unix time now.
func (s *Settings) CurrentEpoch(now int64) uint64 {
	return calc.EpochAt(s.StartTime, now, s.EpochPeriodDays)
}

// CurrentAPR returns the APR percent of the epoch containing now.
func (s *Settings) CurrentAPR(now int64) uint8 {
	return calc.APR(s.CurrentEpoch(now), s.APRStart, s.APRStep, s.APRFloor)
}

type Position struct {
	Owner    solana.PublicKey `json:"owner"`
	Amount   uint64           `json:"amount"`
	StakedAt int64            `json:"staked_at"`
}

func (p *Position) Active() bool { return p.Amount > 0 }

type Config struct {
	Logger *slog.Logger
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
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

func TreasuryAuthority(settings solana.PublicKey) (solana.PublicKey, uint8, error) {
	return authority.FindAddress(ProgramID, authority.Label(TreasurySeed), authority.KeySeed(settings))
}

func RewardFundAuthority(settings solana.PublicKey) (solana.PublicKey, uint8, error) {
	return authority.FindAddress(ProgramID, authority.Label(RewardFundSeed), authority.KeySeed(settings))
}

func PositionAddress(settings, owner solana.PublicKey) (solana.PublicKey, error) {
	key, _, err := authority.FindAddress(ProgramID, authority.Label(PositionSeed), authority.KeySeed(settings), authority.KeySeed(owner))
	return key, err
}

type InitParams struct {
	Admin            solana.PublicKey
	UpdateAuthority  solana.PublicKey
	Mint             solana.PublicKey
	AccumulativeFund solana.PublicKey
	Treasury         solana.PublicKey
	RewardFund       solana.PublicKey
	// StartTime defaults to the initializing transaction's time.
	StartTime       int64
	EpochPeriodDays uint32
	MinStake        uint64
	HoldPeriodDays  uint32
	HoldRoyalty     uint8
	Royalty         uint8
	APRStart        uint8
	APRStep         uint8
	APRFloor        uint8
}

func (v *Vault) Initialize(tx host.Tx, key solana.PublicKey, admin authority.Signer, p InitParams) error {
	if err := authority.Require(tx, admin, p.Admin, faults.ErrInvalidAdmin); err != nil {
		return err
	}
	treasuryAuth, treasuryBump, err := TreasuryAuthority(key)
	if err != nil {
		return err
	}
	fundAuth, fundBump, err := RewardFundAuthority(key)
	if err != nil {
		return err
	}
	start := p.StartTime
	if start == 0 {
		start = tx.Now().Unix()
	}
	st := &Settings{
		Governance:         authority.Governance{Admin: p.Admin, UpdateAuthority: p.UpdateAuthority},
		Mint:               p.Mint,
		AccumulativeFund:   p.AccumulativeFund,
		Treasury:           p.Treasury,
		RewardFund:         p.RewardFund,
		TreasuryAuthBump:   treasuryBump,
		RewardFundAuthBump: fundBump,
		StartTime:          start,
		EpochPeriodDays:    p.EpochPeriodDays,
		MinStake:           p.MinStake,
		HoldPeriodDays:     p.HoldPeriodDays,
		HoldRoyalty:        p.HoldRoyalty,
		Royalty:            p.Royalty,
		APRStart:           p.APRStart,
		APRStep:            p.APRStep,
		APRFloor:           p.APRFloor,
	}
	if err := st.Validate(); err != nil {
		return err
	}
	if _, err := token.RequireAccount(tx, p.Treasury, p.Mint, treasuryAuth); err != nil {
		return err
	}
	if _, err := token.RequireAccount(tx, p.RewardFund, p.Mint, fundAuth); err != nil {
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
	tx.Emit(ModuleName, "initialized", map[string]any{"settings": key.String(), "start_time": start})
	v.log.Debug("stakevault: initialized", "settings", key, "start_time", start)
	return nil
}

func (v *Vault) Settings(tx host.Tx, key solana.PublicKey) (*Settings, error) {
	return host.Load[Settings](tx, key, KindSettings)
}

// Position returns owner's position, or an inactive one if owner never staked.
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

type StakeReceipt struct {
	Royalty uint64 `json:"royalty"`
	Net     uint64 `json:"net"`
}

// Stake opens a position for the owner. The entry royalty goes to the accumulative fund and
// the net amount to the treasury.
func (v *Vault) Stake(tx host.Tx, key solana.PublicKey, owner authority.Signer, from solana.PublicKey, amount uint64) (*StakeReceipt, error) {
	if err := owner.Verify(tx); err != nil {
		return nil, err
	}
	st, err := v.Settings(tx, key)
	if err != nil {
		return nil, err
	}
	if amount < st.MinStake {
		return nil, ErrMinStakeAmountExceeded.WithDetail("amount %d, minimum %d", amount, st.MinStake)
	}
	pos, err := v.Position(tx, key, owner.Key())
	if err != nil {
		return nil, err
	}
	if pos.Active() {
		return nil, ErrAdditionalStakeNotAllowed
	}

	royalty, err := calc.Royalty(st.Royalty, amount)
	if err != nil {
		return nil, err
	}
	net := amount - royalty
	if net == 0 {
		return nil, ErrMinStakeAmountExceeded.WithDetail("nothing left after royalty")
	}
	if err := token.Transfer(tx, from, st.AccumulativeFund, owner, royalty); err != nil {
		return nil, err
	}
	if err := token.Transfer(tx, from, st.Treasury, owner, net); err != nil {
		return nil, err
	}

	pos.Amount = net
	pos.StakedAt = tx.Now().Unix()
	if st.TotalStaked, err = calc.CheckedAdd(st.TotalStaked, net); err != nil {
		return nil, err
	}
	if err := v.savePosition(tx, key, pos); err != nil {
		return nil, err
	}
	if err := host.Store(tx, key, KindSettings, ProgramID, st); err != nil {
		return nil, err
	}

	tx.Emit(ModuleName, "staked", map[string]any{"owner": owner.Key().String(), "amount": amount, "royalty": royalty, "net": net})
	v.log.Debug("stakevault: staked", "owner", owner.Key(), "net", net)
	return &StakeReceipt{Royalty: royalty, Net: net}, nil
}

type WithdrawReceipt struct {
	Principal  uint64 `json:"principal"`
	Penalty    uint64 `json:"penalty"`
	Reward     uint64 `json:"reward"`
	Shortfall  uint64 `json:"shortfall"`
	FirstEpoch uint64 `json:"first_epoch,omitempty"`
	LastEpoch  uint64 `json:"last_epoch,omitempty"`
}

// Earned returns the compounded interest on pos at now and the epochs it covers.
func Earned(st *Settings, pos *Position, now int64) (reward, first, last uint64, err error) {
	first, last, ok := calc.CrossedEpochs(st.StartTime, pos.StakedAt, now, st.EpochPeriodDays)
	if !ok {
		return 0, 0, 0, nil
	}
	aprs := make([]uint8, 0, last-first+1)
	for e := first; e <= last; e++ {
		aprs = append(aprs, calc.APR(e, st.APRStart, st.APRStep, st.APRFloor))
	}
	compounded, err := calc.Compound(pos.Amount, st.EpochPeriodDays, aprs)
	if err != nil {
		return 0, 0, 0, err
	}
	return compounded - pos.Amount, first, last, nil
}

// Withdraw closes the owner's position. The principal less any hold penalty comes from the
// treasury and the interest from the reward fund, capped at the fund's balance.
func (v *Vault) Withdraw(tx host.Tx, key solana.PublicKey, owner authority.Signer, to solana.PublicKey) (*WithdrawReceipt, error) {
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
		return nil, ErrNothingToWithdraw
	}
	if _, err := token.RequireAccount(tx, to, st.Mint, owner.Key()); err != nil {
		return nil, err
	}

	now := tx.Now().Unix()
	earned, first, last, err := Earned(st, pos, now)
	if err != nil {
		return nil, err
	}
	available, err := token.Balance(tx, st.RewardFund)
	if err != nil {
		return nil, err
	}
	reward := min(earned, available)

	principal := pos.Amount
	var penalty uint64
	if now-pos.StakedAt < int64(st.HoldPeriodDays)*calc.SecondsPerDay {
		if penalty, err = calc.Royalty(st.HoldRoyalty, principal); err != nil {
			return nil, err
		}
	}

	treasury, err := program.Signer(st.TreasuryAuthBump, authority.Label(TreasurySeed), authority.KeySeed(key))
	if err != nil {
		return nil, err
	}
	fund, err := program.Signer(st.RewardFundAuthBump, authority.Label(RewardFundSeed), authority.KeySeed(key))
	if err != nil {
		return nil, err
	}
	if err := token.Transfer(tx, st.Treasury, st.AccumulativeFund, treasury, penalty); err != nil {
		return nil, err
	}
	if err := token.Transfer(tx, st.Treasury, to, treasury, principal-penalty); err != nil {
		return nil, err
	}
	if err := token.Transfer(tx, st.RewardFund, to, fund, reward); err != nil {
		return nil, err
	}

	if st.TotalStaked, err = calc.CheckedSub(st.TotalStaked, principal); err != nil {
		return nil, err
	}
	pos.Amount = 0
	pos.StakedAt = 0
	if err := v.savePosition(tx, key, pos); err != nil {
		return nil, err
	}
	if err := host.Store(tx, key, KindSettings, ProgramID, st); err != nil {
		return nil, err
	}

	receipt := &WithdrawReceipt{
		Principal:  principal,
		Penalty:    penalty,
		Reward:     reward,
		Shortfall:  earned - reward,
		FirstEpoch: first,
		LastEpoch:  last,
	}
	tx.Emit(ModuleName, "withdrawn", map[string]any{
		"owner":     owner.Key().String(),
		"principal": principal,
		"penalty":   penalty,
		"reward":    reward,
		"shortfall": receipt.Shortfall,
	})
	if receipt.Shortfall > 0 {
		v.log.Warn("stakevault: reward fund short", "owner", owner.Key(), "earned", earned, "paid", reward)
	}
	return receipt, nil
}
