// Package ledger is the credit ledger: a non-transferable utility credit minted by allowed
// minters, burned by allowed burners and expired lazily once a wallet's burn period elapses.
package ledger

import (
	"errors"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
	"github.com/malbeclabs/gameledger/engine/pkg/calc"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
)

const (
	ModuleName = "ledger"

	KindSettings = "ledger.settings"
	KindWallet   = "ledger.wallet"

	WalletSeed = "user_gpass_wallet"

	MaxMinters = 1
	MaxBurners = 3
)

var program = authority.MustRegister(ModuleName)

var ProgramID = program.ID()

type Settings struct {
	authority.Governance
	BurnPeriod  int64               `json:"burn_period"`
	TotalAmount uint64              `json:"total_amount"`
	Minters     authority.AllowList `json:"minters"`
	Burners     authority.AllowList `json:"burners"`
}

func (s *Settings) Validate() error {
	if s.BurnPeriod <= 0 {
		return ErrInvalidBurnPeriod
	}
	if len(s.Minters) > MaxMinters {
		return ErrMaxMintersExceeded
	}
	if len(s.Burners) > MaxBurners {
		return ErrMaxBurnersExceeded
	}
	return nil
}

type Wallet struct {
	Settings   solana.PublicKey `json:"settings"`
	Owner      solana.PublicKey `json:"owner"`
	Amount     uint64           `json:"amount"`
	LastBurned int64            `json:"last_burned"`
}

// expired reports whether the wallet's burn window has elapsed at now.
func (w *Wallet) expired(now, period int64) bool {
	return now-w.LastBurned >= period
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

type Ledger struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{log: cfg.Logger, cfg: cfg}, nil
}

// WalletAddress returns the wallet key of owner under the given settings.
func WalletAddress(settings, owner solana.PublicKey) (solana.PublicKey, error) {
	key, _, err := authority.FindAddress(ProgramID, authority.Label(WalletSeed), authority.KeySeed(settings), authority.KeySeed(owner))
	return key, err
}

type InitParams struct {
	Admin           solana.PublicKey
	UpdateAuthority solana.PublicKey
	BurnPeriod      int64
	Minters         authority.AllowList
	Burners         authority.AllowList
}

// Initialize creates the settings account. The admin must sign.
func (l *Ledger) Initialize(tx host.Tx, key solana.PublicKey, admin authority.Signer, p InitParams) error {
	if err := authority.Require(tx, admin, p.Admin, faults.ErrInvalidAdmin); err != nil {
		return err
	}
	st := &Settings{
		Governance: authority.Governance{Admin: p.Admin, UpdateAuthority: p.UpdateAuthority},
		BurnPeriod: p.BurnPeriod,
		Minters:    p.Minters,
		Burners:    p.Burners,
	}
	if err := st.Validate(); err != nil {
		return err
	}
	if err := host.Init(tx, key, KindSettings, ProgramID, st); err != nil {
		return err
	}
	tx.Emit(ModuleName, "initialized", map[string]any{"settings": key.String(), "burn_period": p.BurnPeriod})
	l.log.Debug("ledger: initialized", "settings", key, "burn_period", p.BurnPeriod)
	return nil
}

func (l *Ledger) Settings(tx host.Tx, key solana.PublicKey) (*Settings, error) {
	return host.Load[Settings](tx, key, KindSettings)
}

// Wallet returns the stored wallet of owner without applying expiry.
func (l *Ledger) Wallet(tx host.Tx, settings, owner solana.PublicKey) (*Wallet, error) {
	key, err := WalletAddress(settings, owner)
	if err != nil {
		return nil, err
	}
	return host.Load[Wallet](tx, key, KindWallet)
}

// CreateWallet creates owner's wallet. It fails if the wallet already exists.
func (l *Ledger) CreateWallet(tx host.Tx, settings, owner solana.PublicKey) (solana.PublicKey, error) {
	if _, err := l.Settings(tx, settings); err != nil {
		return solana.PublicKey{}, err
	}
	key, err := WalletAddress(settings, owner)
	if err != nil {
		return solana.PublicKey{}, err
	}
	w := &Wallet{Settings: settings, Owner: owner, LastBurned: tx.Now().Unix()}
	if err := host.Init(tx, key, KindWallet, ProgramID, w); err != nil {
		return solana.PublicKey{}, err
	}
	tx.Emit(ModuleName, "wallet_created", map[string]any{"owner": owner.String(), "wallet": key.String()})
	return key, nil
}

// loadOrCreateWallet returns owner's wallet, creating an empty one on first use.
func (l *Ledger) loadOrCreateWallet(tx host.Tx, settings, owner solana.PublicKey) (solana.PublicKey, *Wallet, error) {
	key, err := WalletAddress(settings, owner)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	w, err := host.Load[Wallet](tx, key, KindWallet)
	if errors.Is(err, faults.ErrAccountNotFound) {
		if _, err := l.CreateWallet(tx, settings, owner); err != nil {
			return solana.PublicKey{}, nil, err
		}
		w, err = host.Load[Wallet](tx, key, KindWallet)
	}
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	return key, w, nil
}

// applyExpiry zeroes an expired wallet and removes its balance from the running total.
func applyExpiry(tx host.Tx, st *Settings, w *Wallet) (uint64, bool, error) {
	now := tx.Now().Unix()
	if !w.expired(now, st.BurnPeriod) {
		return 0, false, nil
	}
	expired := w.Amount
	total, err := calc.CheckedSub(st.TotalAmount, expired)
	if err != nil {
		return 0, false, err
	}
	st.TotalAmount = total
	w.Amount = 0
	w.LastBurned = now
	return expired, true, nil
}

func (l *Ledger) save(tx host.Tx, settingsKey solana.PublicKey, st *Settings, walletKey solana.PublicKey, w *Wallet) error {
	if err := host.Store(tx, settingsKey, KindSettings, ProgramID, st); err != nil {
		return err
	}
	return host.Store(tx, walletKey, KindWallet, ProgramID, w)
}

func (l *Ledger) emitExpiry(tx host.Tx, owner solana.PublicKey, amount uint64) {
	tx.Emit(ModuleName, "expired", map[string]any{"owner": owner.String(), "amount": amount})
	l.log.Debug("ledger: wallet expired", "owner", owner, "amount", amount)
}

// Mint credits amount to owner's wallet. The minter must be listed in the settings.
func (l *Ledger) Mint(tx host.Tx, settingsKey, owner solana.PublicKey, minter authority.Signer, amount uint64) error {
	if amount == 0 {
		return ErrZeroMintAmount
	}
	st, err := l.Settings(tx, settingsKey)
	if err != nil {
		return err
	}
	if err := st.Minters.Authorize(tx, minter, ErrInvalidMintAuthority); err != nil {
		return err
	}
	walletKey, w, err := l.loadOrCreateWallet(tx, settingsKey, owner)
	if err != nil {
		return err
	}
	expired, ok, err := applyExpiry(tx, st, w)
	if err != nil {
		return err
	}
	if ok && expired > 0 {
		l.emitExpiry(tx, owner, expired)
	}

	if w.Amount, err = calc.CheckedAdd(w.Amount, amount); err != nil {
		return err
	}
	if st.TotalAmount, err = calc.CheckedAdd(st.TotalAmount, amount); err != nil {
		return err
	}
	if err := l.save(tx, settingsKey, st, walletKey, w); err != nil {
		return err
	}
	tx.Emit(ModuleName, "minted", map[string]any{"owner": owner.String(), "amount": amount, "balance": w.Amount})
	return nil
}

// Burn removes amount from owner's wallet. The burner must be listed in the settings.
func (l *Ledger) Burn(tx host.Tx, settingsKey, owner solana.PublicKey, burner authority.Signer, amount uint64) error {
	if amount == 0 {
		return ErrZeroBurnAmount
	}
	st, err := l.Settings(tx, settingsKey)
	if err != nil {
		return err
	}
	if err := st.Burners.Authorize(tx, burner, ErrInvalidBurnAuthority); err != nil {
		return err
	}
	walletKey, w, err := l.loadOrCreateWallet(tx, settingsKey, owner)
	if err != nil {
		return err
	}
	expired, ok, err := applyExpiry(tx, st, w)
	if err != nil {
		return err
	}
	if ok && expired > 0 {
		l.emitExpiry(tx, owner, expired)
	}

	if w.Amount < amount {
		return ErrInsufficientBalance.WithDetail("balance %d, burn %d", w.Amount, amount)
	}
	w.Amount -= amount
	if st.TotalAmount, err = calc.CheckedSub(st.TotalAmount, amount); err != nil {
		return err
	}
	if err := l.save(tx, settingsKey, st, walletKey, w); err != nil {
		return err
	}
	tx.Emit(ModuleName, "burned", map[string]any{"owner": owner.String(), "amount": amount, "balance": w.Amount})
	return nil
}

// SweepExpired zeroes owner's wallet if its burn window has elapsed. Anyone may call it. It
// fails with ErrBurnPeriodNotPassed inside the window, so a repeat call changes nothing.
func (l *Ledger) SweepExpired(tx host.Tx, settingsKey, owner solana.PublicKey) (uint64, error) {
	st, err := l.Settings(tx, settingsKey)
	if err != nil {
		return 0, err
	}
	walletKey, err := WalletAddress(settingsKey, owner)
	if err != nil {
		return 0, err
	}
	w, err := host.Load[Wallet](tx, walletKey, KindWallet)
	if err != nil {
		return 0, err
	}
	expired, ok, err := applyExpiry(tx, st, w)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrBurnPeriodNotPassed
	}
	if err := l.save(tx, settingsKey, st, walletKey, w); err != nil {
		return 0, err
	}
	l.emitExpiry(tx, owner, expired)
	return expired, nil
}

// EffectiveBalance returns owner's balance as it would be after lazy expiry, without writing.
func (l *Ledger) EffectiveBalance(tx host.Tx, settingsKey, owner solana.PublicKey) (uint64, error) {
	st, err := l.Settings(tx, settingsKey)
	if err != nil {
		return 0, err
	}
	walletKey, err := WalletAddress(settingsKey, owner)
	if err != nil {
		return 0, err
	}
	w, err := host.Load[Wallet](tx, walletKey, KindWallet)
	if errors.Is(err, faults.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if w.expired(tx.Now().Unix(), st.BurnPeriod) {
		return 0, nil
	}
	return w.Amount, nil
}
