package engine

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/malbeclabs/gameledger/engine/pkg/ledger"
	"github.com/malbeclabs/gameledger/engine/pkg/lockvault"
	"github.com/malbeclabs/gameledger/engine/pkg/match"
	"github.com/malbeclabs/gameledger/engine/pkg/rewardgate"
	"github.com/malbeclabs/gameledger/engine/pkg/stakevault"
	"github.com/malbeclabs/gameledger/engine/pkg/token"
	"github.com/malbeclabs/gameledger/engine/pkg/treasury"
)

// Result is the outcome of one committed entry point.
type Result[T any] struct {
	TxID  uuid.UUID `json:"tx_id"`
	Time  time.Time `json:"time"`
	Value T         `json:"result"`
}

func run[T any](ctx context.Context, e *Engine, module, op string, signers []solana.PublicKey, fn func(tx host.Tx) (T, error)) (*Result[T], error) {
	var value T
	receipt, err := e.Execute(ctx, module, op, signers, func(tx host.Tx) error {
		var err error
		value, err = fn(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Result[T]{TxID: receipt.TxID, Time: receipt.Time, Value: value}, nil
}

func signers(keys ...solana.PublicKey) []solana.PublicKey { return keys }

// ensureTokenAccount returns owner's canonical token account, creating it on first use.
func ensureTokenAccount(tx host.Tx, d *Deployment, owner solana.PublicKey) (solana.PublicKey, error) {
	key, err := d.TokenAccountAddress(owner)
	if err != nil {
		return solana.PublicKey{}, err
	}
	ok, err := host.Exists(tx, key)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if !ok {
		if err := token.CreateAccount(tx, key, d.Mint, owner); err != nil {
			return solana.PublicKey{}, err
		}
	}
	return key, nil
}

type TokenAccount struct {
	Account solana.PublicKey `json:"account"`
	Balance uint64           `json:"balance"`
}

// OpenTokenAccount creates owner's canonical token account if it does not exist yet.
func (e *Engine) OpenTokenAccount(ctx context.Context, d *Deployment, owner solana.PublicKey) (*Result[TokenAccount], error) {
	return run(ctx, e, "token", "open_account", signers(owner), func(tx host.Tx) (TokenAccount, error) {
		key, err := ensureTokenAccount(tx, d, owner)
		if err != nil {
			return TokenAccount{}, err
		}
		bal, err := token.Balance(tx, key)
		return TokenAccount{Account: key, Balance: bal}, err
	})
}

// MintTokens issues base tokens to owner. The mint authority must sign.
func (e *Engine) MintTokens(ctx context.Context, d *Deployment, mintAuthority, owner solana.PublicKey, amount uint64) (*Result[TokenAccount], error) {
	return run(ctx, e, "token", "mint", signers(mintAuthority), func(tx host.Tx) (TokenAccount, error) {
		key, err := ensureTokenAccount(tx, d, owner)
		if err != nil {
			return TokenAccount{}, err
		}
		if err := token.MintTo(tx, d.Mint, key, authority.User(mintAuthority), amount); err != nil {
			return TokenAccount{}, err
		}
		bal, err := token.Balance(tx, key)
		return TokenAccount{Account: key, Balance: bal}, err
	})
}

// FundAccumulative moves tokens from the caller's account into the accumulative fund.
func (e *Engine) FundAccumulative(ctx context.Context, d *Deployment, from solana.PublicKey, amount uint64) (*Result[TokenAccount], error) {
	return run(ctx, e, "token", "fund_accumulative", signers(from), func(tx host.Tx) (TokenAccount, error) {
		key, err := d.TokenAccountAddress(from)
		if err != nil {
			return TokenAccount{}, err
		}
		if err := token.Transfer(tx, key, d.AccumulativeFund, authority.User(from), amount); err != nil {
			return TokenAccount{}, err
		}
		bal, err := token.Balance(tx, d.AccumulativeFund)
		return TokenAccount{Account: d.AccumulativeFund, Balance: bal}, err
	})
}

type CreditBalance struct {
	Owner   solana.PublicKey `json:"owner"`
	Balance uint64           `json:"balance"`
}

func (e *Engine) CreateWallet(ctx context.Context, d *Deployment, owner solana.PublicKey) (*Result[solana.PublicKey], error) {
	return run(ctx, e, ledger.ModuleName, "create_wallet", signers(owner), func(tx host.Tx) (solana.PublicKey, error) {
		return e.Ledger.CreateWallet(tx, d.Ledger, owner)
	})
}

// MintCredits mints credits on behalf of an externally held minter key.
func (e *Engine) MintCredits(ctx context.Context, d *Deployment, minter, owner solana.PublicKey, amount uint64) (*Result[CreditBalance], error) {
	return run(ctx, e, ledger.ModuleName, "mint", signers(minter), func(tx host.Tx) (CreditBalance, error) {
		if err := e.Ledger.Mint(tx, d.Ledger, owner, authority.User(minter), amount); err != nil {
			return CreditBalance{}, err
		}
		bal, err := e.Ledger.EffectiveBalance(tx, d.Ledger, owner)
		return CreditBalance{Owner: owner, Balance: bal}, err
	})
}

// BurnCredits burns credits on behalf of an externally held burner key.
func (e *Engine) BurnCredits(ctx context.Context, d *Deployment, burner, owner solana.PublicKey, amount uint64) (*Result[CreditBalance], error) {
	return run(ctx, e, ledger.ModuleName, "burn", signers(burner), func(tx host.Tx) (CreditBalance, error) {
		if err := e.Ledger.Burn(tx, d.Ledger, owner, authority.User(burner), amount); err != nil {
			return CreditBalance{}, err
		}
		bal, err := e.Ledger.EffectiveBalance(tx, d.Ledger, owner)
		return CreditBalance{Owner: owner, Balance: bal}, err
	})
}

type Expiry struct {
	Owner   solana.PublicKey `json:"owner"`
	Expired uint64           `json:"expired"`
}

// SweepExpired is permissionless; the caller only pays for the transaction.
func (e *Engine) SweepExpired(ctx context.Context, d *Deployment, caller, owner solana.PublicKey) (*Result[Expiry], error) {
	return run(ctx, e, ledger.ModuleName, "sweep_expired", signers(caller), func(tx host.Tx) (Expiry, error) {
		n, err := e.Ledger.SweepExpired(tx, d.Ledger, owner)
		return Expiry{Owner: owner, Expired: n}, err
	})
}

func (e *Engine) Lock(ctx context.Context, d *Deployment, owner solana.PublicKey, amount uint64) (*Result[*lockvault.LockReceipt], error) {
	return run(ctx, e, lockvault.ModuleName, "lock", signers(owner), func(tx host.Tx) (*lockvault.LockReceipt, error) {
		from, err := d.TokenAccountAddress(owner)
		if err != nil {
			return nil, err
		}
		return e.LockVault.Lock(tx, d.LockVault, authority.User(owner), from, amount)
	})
}

func (e *Engine) CollectAccrued(ctx context.Context, d *Deployment, owner solana.PublicKey) (*Result[*lockvault.AccrualReceipt], error) {
	return run(ctx, e, lockvault.ModuleName, "collect_accrued", signers(owner), func(tx host.Tx) (*lockvault.AccrualReceipt, error) {
		return e.LockVault.CollectAccrued(tx, d.LockVault, authority.User(owner))
	})
}

func (e *Engine) Unlock(ctx context.Context, d *Deployment, owner solana.PublicKey) (*Result[*lockvault.UnlockReceipt], error) {
	return run(ctx, e, lockvault.ModuleName, "unlock", signers(owner), func(tx host.Tx) (*lockvault.UnlockReceipt, error) {
		to, err := ensureTokenAccount(tx, d, owner)
		if err != nil {
			return nil, err
		}
		return e.LockVault.Unlock(tx, d.LockVault, authority.User(owner), to)
	})
}

func (e *Engine) Stake(ctx context.Context, d *Deployment, owner solana.PublicKey, amount uint64) (*Result[*stakevault.StakeReceipt], error) {
	return run(ctx, e, stakevault.ModuleName, "stake", signers(owner), func(tx host.Tx) (*stakevault.StakeReceipt, error) {
		from, err := d.TokenAccountAddress(owner)
		if err != nil {
			return nil, err
		}
		return e.StakeVault.Stake(tx, d.StakeVault, authority.User(owner), from, amount)
	})
}

func (e *Engine) Withdraw(ctx context.Context, d *Deployment, owner solana.PublicKey) (*Result[*stakevault.WithdrawReceipt], error) {
	return run(ctx, e, stakevault.ModuleName, "withdraw", signers(owner), func(tx host.Tx) (*stakevault.WithdrawReceipt, error) {
		to, err := ensureTokenAccount(tx, d, owner)
		if err != nil {
			return nil, err
		}
		return e.StakeVault.Withdraw(tx, d.StakeVault, authority.User(owner), to)
	})
}

// Distribute is permissionless.
func (e *Engine) Distribute(ctx context.Context, d *Deployment, caller solana.PublicKey) (*Result[*treasury.Distribution], error) {
	return run(ctx, e, treasury.ModuleName, "distribute", signers(caller), func(tx host.Tx) (*treasury.Distribution, error) {
		return e.Treasury.Distribute(tx, d.Treasury)
	})
}

// GateTransfer pays out of the play-to-earn fund on behalf of an externally held caller key
// listed on the gate's allow-list.
func (e *Engine) GateTransfer(ctx context.Context, d *Deployment, caller, to solana.PublicKey, amount uint64) (*Result[TokenAccount], error) {
	return run(ctx, e, rewardgate.ModuleName, "transfer", signers(caller), func(tx host.Tx) (TokenAccount, error) {
		key, err := ensureTokenAccount(tx, d, to)
		if err != nil {
			return TokenAccount{}, err
		}
		if err := e.RewardGate.Transfer(tx, d.RewardGate, authority.User(caller), key, amount); err != nil {
			return TokenAccount{}, err
		}
		bal, err := token.Balance(tx, key)
		return TokenAccount{Account: key, Balance: bal}, err
	})
}

func (e *Engine) StartMatch(ctx context.Context, d *Deployment, owner solana.PublicKey) (*Result[*match.StartReceipt], error) {
	return run(ctx, e, match.ModuleName, "start", signers(owner), func(tx host.Tx) (*match.StartReceipt, error) {
		return e.Match.Start(tx, d.Match, authority.User(owner))
	})
}

type FinalizeRequest struct {
	ID      uint64       `json:"id"`
	Result  string       `json:"result"`
	Actions []match.Step `json:"actions"`
}

// FinalizeMatch needs both the validator and the owner to sign.
func (e *Engine) FinalizeMatch(ctx context.Context, d *Deployment, validator, owner solana.PublicKey, req FinalizeRequest) (*Result[*match.FinalizeReceipt], error) {
	result, err := match.ParseResult(req.Result)
	if err != nil {
		return nil, err
	}
	return run(ctx, e, match.ModuleName, "finalize", signers(validator, owner), func(tx host.Tx) (*match.FinalizeReceipt, error) {
		to, err := ensureTokenAccount(tx, d, owner)
		if err != nil {
			return nil, err
		}
		return e.Match.Finalize(tx, d.Match, authority.User(validator), authority.User(owner), match.FinalizeParams{
			ID:      req.ID,
			Result:  result,
			Actions: req.Actions,
			To:      to,
		})
	})
}

// Overview is everything the engine tracks for one owner.
type Overview struct {
	Owner        solana.PublicKey    `json:"owner"`
	TokenAccount solana.PublicKey    `json:"token_account"`
	Tokens       uint64              `json:"tokens"`
	Credits      uint64              `json:"credits"`
	Lock         lockvault.Position  `json:"lock"`
	Stake        stakevault.Position `json:"stake"`
	Session      match.Session       `json:"session"`
}

func (e *Engine) Overview(ctx context.Context, d *Deployment, owner solana.PublicKey) (*Overview, error) {
	o := &Overview{Owner: owner}
	err := e.View(ctx, func(tx host.Tx) error {
		key, err := d.TokenAccountAddress(owner)
		if err != nil {
			return err
		}
		o.TokenAccount = key
		o.Tokens, err = token.Balance(tx, key)
		if err != nil && !errors.Is(err, faults.ErrAccountNotFound) {
			return err
		}
		if o.Credits, err = e.Ledger.EffectiveBalance(tx, d.Ledger, owner); err != nil {
			return err
		}
		lock, err := e.LockVault.Position(tx, d.LockVault, owner)
		if err != nil {
			return err
		}
		stake, err := e.StakeVault.Position(tx, d.StakeVault, owner)
		if err != nil {
			return err
		}
		session, err := e.Match.Session(tx, d.Match, owner)
		if err != nil {
			return err
		}
		o.Lock, o.Stake, o.Session = *lock, *stake, *session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (e *Engine) Game(ctx context.Context, d *Deployment, owner solana.PublicKey, id uint64) (*match.Game, error) {
	var g *match.Game
	err := e.View(ctx, func(tx host.Tx) error {
		var err error
		g, err = e.Match.Game(tx, d.Match, owner, id)
		return err
	})
	return g, err
}

// Funds returns the balance of every fund in the deployment, keyed by role.
func (e *Engine) Funds(ctx context.Context, d *Deployment) (map[string]uint64, error) {
	funds := map[string]solana.PublicKey{
		"accumulative_fund": d.AccumulativeFund,
		"lock_treasury":     d.LockTreasury,
		"stake_treasury":    d.StakeTreasury,
		"stake_reward_fund": d.StakeRewardFund,
		"play_to_earn_fund": d.PlayToEarnFund,
		"company_fund":      d.CompanyFund,
		"team_fund":         d.TeamFund,
	}
	out := make(map[string]uint64, len(funds))
	err := e.View(ctx, func(tx host.Tx) error {
		for role, key := range funds {
			bal, err := token.Balance(tx, key)
			if err != nil {
				return err
			}
			out[role] = bal
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
