// Package match runs paid game sessions: starting one burns a credit, finalizing it records the
// game and pays winners out of the reward gate.
package match

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
	"github.com/malbeclabs/gameledger/engine/pkg/calc"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/malbeclabs/gameledger/engine/pkg/ledger"
	"github.com/malbeclabs/gameledger/engine/pkg/lockvault"
	"github.com/malbeclabs/gameledger/engine/pkg/rewardgate"
	"github.com/malbeclabs/gameledger/engine/pkg/token"
)

const (
	ModuleName = "match"

	KindSettings = "match.settings"
	KindSession  = "match.session"
	KindGame     = "match.game"

	BurnAuthSeed   = "gpass_burn_auth"
	RewardAuthSeed = "reward_transfer_auth"
	SessionSeed    = "user_info"
	GameSeed       = "game_info"

	MaxActions = 100

	// SessionCost is the number of credits burned to start a session.
	SessionCost = 1
)

var program = authority.MustRegister(ModuleName)

var ProgramID = program.ID()

type Result uint8

const (
	ResultWin Result = iota
	ResultLoss
	ResultDraw
)

func (r Result) String() string {
	switch r {
	case ResultWin:
		return "win"
	case ResultLoss:
		return "loss"
	case ResultDraw:
		return "draw"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

func ParseResult(s string) (Result, error) {
	switch s {
	case "win":
		return ResultWin, nil
	case "loss":
		return ResultLoss, nil
	case "draw":
		return ResultDraw, nil
	}
	return 0, ErrInvalidGameResult.WithDetail("%q", s)
}

type Identity uint8

const (
	IdentityUser Identity = iota
	IdentityOpponent
)

// Step is one entry of a game's actions log.
type Step struct {
	Identity Identity `json:"identity"`
	Action   uint8    `json:"action"`
}

type Settings struct {
	authority.Governance
	Validator          solana.PublicKey `json:"validator"`
	LedgerSettings     solana.PublicKey `json:"ledger_settings"`
	LockVaultSettings  solana.PublicKey `json:"lockvault_settings"`
	RewardGateSettings solana.PublicKey `json:"rewardgate_settings"`
	AccumulativeFund   solana.PublicKey `json:"accumulative_fund"`
	BurnAuthBump       uint8            `json:"burn_auth_bump"`
	RewardAuthBump     uint8            `json:"reward_auth_bump"`

	AFKTimeout          int64  `json:"afk_timeout"`
	Royalty             uint8  `json:"royalty"`
	RewardCoefficient   uint32 `json:"reward_coefficient"`
	DailyCap            uint64 `json:"daily_cap"`
	DailyCapCoefficient uint32 `json:"daily_cap_coefficient"`
}

func (s *Settings) Validate() error {
	if s.AFKTimeout <= 0 {
		return ErrInvalidAFKTimeout
	}
	if err := calc.ValidatePercent(s.Royalty); err != nil {
		return err
	}
	if s.RewardCoefficient == 0 {
		return ErrInvalidCoefficient.WithDetail("reward coefficient")
	}
	if s.DailyCapCoefficient == 0 {
		return ErrInvalidCoefficient.WithDetail("daily cap coefficient")
	}
	return nil
}

// Reward returns the win payout for a pool shared by activeUsers lockers, capped at the
// per-game slice of the daily cap.
func (s *Settings) Reward(pool, activeUsers uint64) uint64 {
	capped := s.DailyCap / uint64(s.DailyCapCoefficient)
	denom, err := calc.CheckedMul(activeUsers, uint64(s.RewardCoefficient))
	if err != nil || denom == 0 {
		return 0
	}
	return min(pool/denom, capped)
}

type Session struct {
	Owner     solana.PublicKey `json:"owner"`
	InSession bool             `json:"in_session"`
	StartedAt int64            `json:"started_at"`
}

type Game struct {
	Owner      solana.PublicKey `json:"owner"`
	ID         uint64           `json:"id"`
	Result     Result           `json:"result"`
	Actions    []Step           `json:"actions"`
	Reward     uint64           `json:"reward"`
	StartedAt  int64            `json:"started_at"`
	FinishedAt int64            `json:"finished_at"`
}

type Config struct {
	Logger    *slog.Logger
	Ledger    *ledger.Ledger
	LockVault *lockvault.Vault
	Gate      *rewardgate.Gate
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.LockVault == nil {
		return errors.New("lock vault is required")
	}
	if cfg.Gate == nil {
		return errors.New("reward gate is required")
	}
	return nil
}

type Match struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Match, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Match{log: cfg.Logger, cfg: cfg}, nil
}

// BurnAuthority is the derived key that must be listed as a ledger burner.
func BurnAuthority(settings, ledgerSettings solana.PublicKey) (solana.PublicKey, uint8, error) {
	return authority.FindAddress(ProgramID, authority.Label(BurnAuthSeed), authority.KeySeed(settings), authority.KeySeed(ledgerSettings))
}

// RewardAuthority is the derived key that must be on the reward gate's transfer allow-list.
func RewardAuthority(settings, gateSettings solana.PublicKey) (solana.PublicKey, uint8, error) {
	return authority.FindAddress(ProgramID, authority.Label(RewardAuthSeed), authority.KeySeed(settings), authority.KeySeed(gateSettings))
}

func SessionAddress(settings, owner solana.PublicKey) (solana.PublicKey, error) {
	key, _, err := authority.FindAddress(ProgramID, authority.Label(SessionSeed), authority.KeySeed(settings), authority.KeySeed(owner))
	return key, err
}

func GameAddress(settings, owner solana.PublicKey, id uint64) (solana.PublicKey, error) {
	key, _, err := authority.FindAddress(ProgramID, authority.Label(GameSeed), authority.KeySeed(settings), authority.KeySeed(owner), authority.U64Seed(id))
	return key, err
}

type InitParams struct {
	Admin               solana.PublicKey
	UpdateAuthority     solana.PublicKey
	Validator           solana.PublicKey
	LedgerSettings      solana.PublicKey
	LockVaultSettings   solana.PublicKey
	RewardGateSettings  solana.PublicKey
	AccumulativeFund    solana.PublicKey
	AFKTimeout          int64
	Royalty             uint8
	RewardCoefficient   uint32
	DailyCap            uint64
	DailyCapCoefficient uint32
}

func (m *Match) Initialize(tx host.Tx, key solana.PublicKey, admin authority.Signer, p InitParams) error {
	if err := authority.Require(tx, admin, p.Admin, faults.ErrInvalidAdmin); err != nil {
		return err
	}
	_, burnBump, err := BurnAuthority(key, p.LedgerSettings)
	if err != nil {
		return err
	}
	_, rewardBump, err := RewardAuthority(key, p.RewardGateSettings)
	if err != nil {
		return err
	}
	st := &Settings{
		Governance:          authority.Governance{Admin: p.Admin, UpdateAuthority: p.UpdateAuthority},
		Validator:           p.Validator,
		LedgerSettings:      p.LedgerSettings,
		LockVaultSettings:   p.LockVaultSettings,
		RewardGateSettings:  p.RewardGateSettings,
		AccumulativeFund:    p.AccumulativeFund,
		BurnAuthBump:        burnBump,
		RewardAuthBump:      rewardBump,
		AFKTimeout:          p.AFKTimeout,
		Royalty:             p.Royalty,
		RewardCoefficient:   p.RewardCoefficient,
		DailyCap:            p.DailyCap,
		DailyCapCoefficient: p.DailyCapCoefficient,
	}
	if err := st.Validate(); err != nil {
		return err
	}
	if _, err := m.cfg.Ledger.Settings(tx, p.LedgerSettings); err != nil {
		return err
	}
	if _, err := m.cfg.LockVault.Settings(tx, p.LockVaultSettings); err != nil {
		return err
	}
	gate, err := m.cfg.Gate.Settings(tx, p.RewardGateSettings)
	if err != nil {
		return err
	}
	fund, err := token.GetAccount(tx, p.AccumulativeFund)
	if err != nil {
		return err
	}
	if !fund.Mint.Equals(gate.Mint) {
		return faults.ErrMintMismatch.WithDetail("accumulative fund")
	}
	if err := host.Init(tx, key, KindSettings, ProgramID, st); err != nil {
		return err
	}
	tx.Emit(ModuleName, "initialized", map[string]any{"settings": key.String()})
	m.log.Debug("match: initialized", "settings", key)
	return nil
}

func (m *Match) Settings(tx host.Tx, key solana.PublicKey) (*Settings, error) {
	return host.Load[Settings](tx, key, KindSettings)
}

// Session returns owner's session, idle if owner never played.
func (m *Match) Session(tx host.Tx, key, owner solana.PublicKey) (*Session, error) {
	addr, err := SessionAddress(key, owner)
	if err != nil {
		return nil, err
	}
	s, err := host.Load[Session](tx, addr, KindSession)
	if errors.Is(err, faults.ErrAccountNotFound) {
		return &Session{Owner: owner}, nil
	}
	return s, err
}

func (m *Match) Game(tx host.Tx, key, owner solana.PublicKey, id uint64) (*Game, error) {
	addr, err := GameAddress(key, owner, id)
	if err != nil {
		return nil, err
	}
	return host.Load[Game](tx, addr, KindGame)
}

func (m *Match) saveSession(tx host.Tx, key solana.PublicKey, s *Session) error {
	addr, err := SessionAddress(key, s.Owner)
	if err != nil {
		return err
	}
	ok, err := host.Exists(tx, addr)
	if err != nil {
		return err
	}
	if !ok {
		return host.Init(tx, addr, KindSession, ProgramID, s)
	}
	return host.Store(tx, addr, KindSession, ProgramID, s)
}

type StartReceipt struct {
	// Recovered is set when the call only cleared an abandoned session.
	Recovered bool   `json:"recovered"`
	Burned    uint64 `json:"burned"`
	StartedAt int64  `json:"started_at,omitempty"`
}

// Start begins a session by burning one credit. An abandoned session older than the AFK
// timeout is cleared instead, without charge and without starting a new one.
func (m *Match) Start(tx host.Tx, key solana.PublicKey, owner authority.Signer) (*StartReceipt, error) {
	if err := owner.Verify(tx); err != nil {
		return nil, err
	}
	st, err := m.Settings(tx, key)
	if err != nil {
		return nil, err
	}
	s, err := m.Session(tx, key, owner.Key())
	if err != nil {
		return nil, err
	}
	now := tx.Now().Unix()

	if s.InSession {
		if now-s.StartedAt < st.AFKTimeout {
			return nil, ErrStillInSession
		}
		s.InSession = false
		s.StartedAt = 0
		if err := m.saveSession(tx, key, s); err != nil {
			return nil, err
		}
		tx.Emit(ModuleName, "session_recovered", map[string]any{"owner": owner.Key().String()})
		m.log.Info("match: afk session cleared", "owner", owner.Key())
		return &StartReceipt{Recovered: true}, nil
	}

	balance, err := m.cfg.Ledger.EffectiveBalance(tx, st.LedgerSettings, owner.Key())
	if err != nil {
		return nil, err
	}
	if balance == 0 {
		return nil, ErrZeroCreditBalance
	}
	burner, err := program.Signer(st.BurnAuthBump, authority.Label(BurnAuthSeed), authority.KeySeed(key), authority.KeySeed(st.LedgerSettings))
	if err != nil {
		return nil, err
	}
	if err := m.cfg.Ledger.Burn(tx, st.LedgerSettings, owner.Key(), burner, SessionCost); err != nil {
		return nil, err
	}

	s.InSession = true
	s.StartedAt = now
	if err := m.saveSession(tx, key, s); err != nil {
		return nil, err
	}
	tx.Emit(ModuleName, "session_started", map[string]any{"owner": owner.Key().String(), "started_at": now})
	return &StartReceipt{Burned: SessionCost, StartedAt: now}, nil
}

type FinalizeParams struct {
	ID      uint64
	Result  Result
	Actions []Step
	// To receives a win payout; it must be the owner's account for the gate's mint.
	To solana.PublicKey
}

type FinalizeReceipt struct {
	Reward  uint64 `json:"reward"`
	Royalty uint64 `json:"royalty"`
	Payout  uint64 `json:"payout"`
}

// Finalize records the outcome of the owner's session. Only the validator may finalize and
// both it and the owner must sign.
func (m *Match) Finalize(tx host.Tx, key solana.PublicKey, validator, owner authority.Signer, p FinalizeParams) (*FinalizeReceipt, error) {
	st, err := m.Settings(tx, key)
	if err != nil {
		return nil, err
	}
	if err := authority.Require(tx, validator, st.Validator, ErrInvalidValidator); err != nil {
		return nil, err
	}
	if err := owner.Verify(tx); err != nil {
		return nil, err
	}
	if p.Result > ResultDraw {
		return nil, ErrInvalidGameResult.WithDetail("%d", uint8(p.Result))
	}
	if n := len(p.Actions); n < 1 || n > MaxActions {
		return nil, ErrInvalidActionsLog.WithDetail("got %d, want 1..%d", n, MaxActions)
	}
	s, err := m.Session(tx, key, owner.Key())
	if err != nil {
		return nil, err
	}
	if !s.InSession {
		return nil, ErrUserNotInSession
	}

	receipt := &FinalizeReceipt{}
	if p.Result == ResultWin {
		if receipt, err = m.payWinner(tx, key, st, owner.Key(), p.To); err != nil {
			return nil, err
		}
	}

	gameKey, err := GameAddress(key, owner.Key(), p.ID)
	if err != nil {
		return nil, err
	}
	game := &Game{
		Owner:      owner.Key(),
		ID:         p.ID,
		Result:     p.Result,
		Actions:    p.Actions,
		Reward:     receipt.Reward,
		StartedAt:  s.StartedAt,
		FinishedAt: tx.Now().Unix(),
	}
	if err := host.Init(tx, gameKey, KindGame, ProgramID, game); err != nil {
		if errors.Is(err, faults.ErrAccountExists) {
			return nil, ErrGameAlreadyFinished.WithDetail("id %d", p.ID)
		}
		return nil, err
	}

	s.InSession = false
	s.StartedAt = 0
	if err := m.saveSession(tx, key, s); err != nil {
		return nil, err
	}
	tx.Emit(ModuleName, "game_finalized", map[string]any{
		"owner":  owner.Key().String(),
		"id":     p.ID,
		"result": p.Result.String(),
		"reward": receipt.Reward,
	})
	m.log.Debug("match: game finalized", "owner", owner.Key(), "id", p.ID, "result", p.Result, "reward", receipt.Reward)
	return receipt, nil
}

func (m *Match) payWinner(tx host.Tx, key solana.PublicKey, st *Settings, owner, to solana.PublicKey) (*FinalizeReceipt, error) {
	gate, err := m.cfg.Gate.Settings(tx, st.RewardGateSettings)
	if err != nil {
		return nil, err
	}
	pool, err := token.Balance(tx, gate.Fund)
	if err != nil {
		return nil, err
	}
	active, err := m.cfg.LockVault.ActiveUsers(tx, st.LockVaultSettings)
	if err != nil {
		return nil, err
	}
	reward := st.Reward(pool, active)
	if reward == 0 {
		return &FinalizeReceipt{}, nil
	}
	if _, err := token.RequireAccount(tx, to, gate.Mint, owner); err != nil {
		return nil, err
	}
	royalty, err := calc.Royalty(st.Royalty, reward)
	if err != nil {
		return nil, err
	}
	payout := reward - royalty

	caller, err := program.Signer(st.RewardAuthBump, authority.Label(RewardAuthSeed), authority.KeySeed(key), authority.KeySeed(st.RewardGateSettings))
	if err != nil {
		return nil, err
	}
	if payout > 0 {
		if err := m.cfg.Gate.Transfer(tx, st.RewardGateSettings, caller, to, payout); err != nil {
			return nil, err
		}
	}
	if royalty > 0 {
		if err := m.cfg.Gate.Transfer(tx, st.RewardGateSettings, caller, st.AccumulativeFund, royalty); err != nil {
			return nil, err
		}
	}
	return &FinalizeReceipt{Reward: reward, Royalty: royalty, Payout: payout}, nil
}
