package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/gameledger/engine/pkg/calc"
	"github.com/malbeclabs/gameledger/engine/pkg/engine"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/malbeclabs/gameledger/engine/pkg/ledger"
	"github.com/malbeclabs/gameledger/engine/pkg/lockvault"
	"github.com/malbeclabs/gameledger/engine/pkg/match"
	"github.com/malbeclabs/gameledger/engine/pkg/metrics"
	"github.com/malbeclabs/gameledger/engine/pkg/rewardgate"
	"github.com/malbeclabs/gameledger/engine/pkg/treasury"
	gltesting "github.com/malbeclabs/gameledger/utils/pkg/testing"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu     sync.Mutex
	events []host.Event
	err    error
}

func (c *capture) Publish(_ context.Context, evs []host.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evs...)
	return c.err
}

func (c *capture) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Module+"."+ev.Name)
	}
	return out
}

type fixture struct {
	clock     *clockwork.FakeClock
	engine    *engine.Engine
	pub       *capture
	d         *engine.Deployment
	admin     solana.PublicKey
	validator solana.PublicKey
	user      solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := gltesting.NewLogger()
	clock := gltesting.NewClock()
	h, err := host.NewMemory(host.MemoryConfig{Logger: log, Clock: clock})
	require.NoError(t, err)
	pub := &capture{}
	e, err := engine.New(engine.Config{Logger: log, Host: h, Publisher: pub})
	require.NoError(t, err)

	f := &fixture{
		clock:     clock,
		engine:    e,
		pub:       pub,
		admin:     solana.NewWallet().PublicKey(),
		validator: solana.NewWallet().PublicKey(),
		user:      solana.NewWallet().PublicKey(),
	}
	p := engine.DefaultBootstrapParams("test")
	p.Admin = f.admin
	p.Validator = f.validator
	f.d, err = e.Bootstrap(t.Context(), p)
	require.NoError(t, err)
	return f
}

func TestGameLedger_Engine_New(t *testing.T) {
	t.Parallel()

	_, err := engine.New(engine.Config{})
	require.EqualError(t, err, "logger is required")
	_, err = engine.New(engine.Config{Logger: gltesting.NewLogger()})
	require.EqualError(t, err, "host is required")
}

func TestGameLedger_Engine_Bootstrap(t *testing.T) {
	t.Parallel()

	t.Run("records a deployment that can be reloaded", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		d, err := f.engine.LoadDeployment(t.Context(), "test")
		require.NoError(t, err)
		require.Equal(t, f.d, d)
		require.Equal(t, f.admin, d.Admin)
		require.Equal(t, f.admin, d.UpdateAuthority)
		require.Contains(t, f.pub.names(), "engine.bootstrapped")

		funds, err := f.engine.Funds(t.Context(), d)
		require.NoError(t, err)
		require.Len(t, funds, 7)
		for role, bal := range funds {
			require.Zero(t, bal, role)
		}
	})

	t.Run("derives the same keys for the same name", func(t *testing.T) {
		t.Parallel()
		a := newFixture(t)
		b := newFixture(t)
		require.Equal(t, a.d.Ledger, b.d.Ledger)
		require.Equal(t, a.d.Match, b.d.Match)
		require.NotEqual(t, a.d.Mint, a.d.Ledger)
	})

	t.Run("wires the vaults and the match into each other", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		lockMint, _, err := lockvault.MintAuthority(f.d.LockVault, f.d.Ledger)
		require.NoError(t, err)
		burn, _, err := match.BurnAuthority(f.d.Match, f.d.Ledger)
		require.NoError(t, err)
		reward, _, err := match.RewardAuthority(f.d.Match, f.d.RewardGate)
		require.NoError(t, err)

		require.NoError(t, f.engine.View(t.Context(), func(tx host.Tx) error {
			ls, err := f.engine.Ledger.Settings(tx, f.d.Ledger)
			require.NoError(t, err)
			require.Contains(t, ls.Minters, lockMint)
			require.Contains(t, ls.Burners, burn)
			require.Equal(t, int64(30*calc.SecondsPerDay), ls.BurnPeriod)

			gs, err := f.engine.RewardGate.Settings(tx, f.d.RewardGate)
			require.NoError(t, err)
			require.Contains(t, gs.TransferAuthList, reward)

			ms, err := f.engine.Match.Settings(tx, f.d.Match)
			require.NoError(t, err)
			require.Equal(t, f.validator, ms.Validator)
			return nil
		}))
	})

	t.Run("rejects a second bootstrap with the same name", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		p := engine.DefaultBootstrapParams("test")
		p.Admin = f.admin
		_, err := f.engine.Bootstrap(t.Context(), p)
		require.ErrorIs(t, err, faults.ErrAccountExists)
	})

	t.Run("requires a name and an admin", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.engine.Bootstrap(t.Context(), engine.BootstrapParams{Admin: f.admin})
		require.EqualError(t, err, "deployment name is required")
		_, err = f.engine.Bootstrap(t.Context(), engine.DefaultBootstrapParams("other"))
		require.EqualError(t, err, "admin is required")
	})

	t.Run("rolls back on invalid parameters", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		p := engine.DefaultBootstrapParams("broken")
		p.Admin = f.admin
		p.Treasury.TeamShare = 101
		_, err := f.engine.Bootstrap(t.Context(), p)
		require.Error(t, err)

		_, err = f.engine.LoadDeployment(t.Context(), "broken")
		require.ErrorIs(t, err, faults.ErrAccountNotFound)
	})
}

func TestGameLedger_Engine_EndToEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()
	const day = time.Duration(calc.SecondsPerDay) * time.Second

	minted, err := f.engine.MintTokens(ctx, f.d, f.admin, f.user, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), minted.Value.Balance)

	// Lock: 8% royalty, top tier reward for the net amount.
	lock, err := f.engine.Lock(ctx, f.d, f.user, 100_000)
	require.NoError(t, err)
	require.Equal(t, lockvault.LockReceipt{Royalty: 8000, Net: 92_000, Reward: 15}, *lock.Value)

	dist, err := f.engine.Distribute(ctx, f.d, f.user)
	require.NoError(t, err)
	require.Equal(t, uint64(8000), dist.Value.Total)
	require.Equal(t, []uint64{3600, 3200, 400, 800}, dist.Value.Amounts)

	_, err = f.engine.Distribute(ctx, f.d, f.user)
	require.ErrorIs(t, err, treasury.ErrEmptyAccumulativeFund)

	// One session costs one credit.
	start, err := f.engine.StartMatch(ctx, f.d, f.user)
	require.NoError(t, err)
	require.Equal(t, uint64(match.SessionCost), start.Value.Burned)
	require.False(t, start.Value.Recovered)

	ov, err := f.engine.Overview(ctx, f.d, f.user)
	require.NoError(t, err)
	require.Equal(t, uint64(14), ov.Credits)
	require.True(t, ov.Session.InSession)
	require.Equal(t, uint64(92_000), ov.Lock.Amount)

	// Win: pool 3600 over one locker at coefficient 20 is 180, capped at 15000/100.
	req := engine.FinalizeRequest{ID: 1, Result: "win", Actions: []match.Step{{Identity: match.IdentityUser, Action: 1}}}
	_, err = f.engine.FinalizeMatch(ctx, f.d, f.user, f.user, req)
	require.ErrorIs(t, err, match.ErrInvalidValidator)
	fin, err := f.engine.FinalizeMatch(ctx, f.d, f.validator, f.user, req)
	require.NoError(t, err)
	require.Equal(t, match.FinalizeReceipt{Reward: 150, Royalty: 12, Payout: 138}, *fin.Value)

	game, err := f.engine.Game(ctx, f.d, f.user, 1)
	require.NoError(t, err)
	require.Equal(t, match.ResultWin, game.Result)
	require.Equal(t, uint64(150), game.Reward)

	_, err = f.engine.FinalizeMatch(ctx, f.d, f.validator, f.user, engine.FinalizeRequest{ID: 2, Result: "nope", Actions: req.Actions})
	require.ErrorIs(t, err, match.ErrInvalidGameResult)

	// Stake: 8% royalty, the rest held in the stake treasury.
	stake, err := f.engine.Stake(ctx, f.d, f.user, 10_000)
	require.NoError(t, err)
	require.Equal(t, uint64(800), stake.Value.Royalty)
	require.Equal(t, uint64(9200), stake.Value.Net)

	funds, err := f.engine.Funds(ctx, f.d)
	require.NoError(t, err)
	require.Equal(t, uint64(12+800), funds["accumulative_fund"])
	require.Equal(t, uint64(3600-150), funds["play_to_earn_fund"])
	require.Equal(t, uint64(3200), funds["stake_reward_fund"])
	require.Equal(t, uint64(92_000), funds["lock_treasury"])
	require.Equal(t, uint64(9200), funds["stake_treasury"])

	f.clock.Advance(31 * day)

	// Credits lapse after the 30 day burn period.
	ov, err = f.engine.Overview(ctx, f.d, f.user)
	require.NoError(t, err)
	require.Zero(t, ov.Credits)
	swept, err := f.engine.SweepExpired(ctx, f.d, f.admin, f.user)
	require.NoError(t, err)
	require.Equal(t, uint64(14), swept.Value.Expired)

	// Past the hold period and inside the first epoch: principal back, no interest yet.
	wd, err := f.engine.Withdraw(ctx, f.d, f.user)
	require.NoError(t, err)
	require.Equal(t, uint64(9200), wd.Value.Principal)
	require.Zero(t, wd.Value.Penalty)
	require.Zero(t, wd.Value.Reward)

	// Past maturity: no penalty, 31 accrual periods at the top tier.
	unlock, err := f.engine.Unlock(ctx, f.d, f.user)
	require.NoError(t, err)
	require.Equal(t, uint64(92_000), unlock.Value.Payout)
	require.Zero(t, unlock.Value.Penalty)
	require.Equal(t, lockvault.AccrualReceipt{Periods: 31, Reward: 31 * 15}, unlock.Value.Accrued)

	ov, err = f.engine.Overview(ctx, f.d, f.user)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000-100_000+138-10_000+9200+92_000), ov.Tokens)
	require.Equal(t, uint64(31*15), ov.Credits)
	require.False(t, ov.Lock.Active())
	require.False(t, ov.Stake.Active())
	require.False(t, ov.Session.InSession)

	names := f.pub.names()
	for _, want := range []string{"lockvault.locked", "ledger.minted", "treasury.distributed", "match.session_started", "match.game_finalized", "stakevault.withdrawn", "lockvault.unlocked"} {
		require.Contains(t, names, want)
	}
}

func TestGameLedger_Engine_Credits(t *testing.T) {
	t.Parallel()

	t.Run("external minter must be on the ledger allow list", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.engine.MintCredits(t.Context(), f.d, f.admin, f.user, 5)
		require.ErrorIs(t, err, ledger.ErrInvalidMintAuthority)
	})

	t.Run("external burner cannot burn without being listed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.engine.BurnCredits(t.Context(), f.d, f.admin, f.user, 1)
		require.ErrorIs(t, err, ledger.ErrInvalidBurnAuthority)
	})

	t.Run("external caller cannot drain the reward gate", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.engine.GateTransfer(t.Context(), f.d, f.admin, f.user, 1)
		require.ErrorIs(t, err, rewardgate.ErrCallerNotAllowed)
	})

	t.Run("create wallet is idempotent for the owner", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		w, err := f.engine.CreateWallet(t.Context(), f.d, f.user)
		require.NoError(t, err)
		want, err := ledger.WalletAddress(f.d.Ledger, f.user)
		require.NoError(t, err)
		require.Equal(t, want, w.Value)
	})
}

func TestGameLedger_Engine_Execute(t *testing.T) {
	t.Parallel()

	t.Run("publishes only committed events", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		before := len(f.pub.names())

		_, err := f.engine.StartMatch(t.Context(), f.d, f.user)
		require.ErrorIs(t, err, match.ErrZeroCreditBalance)
		require.Len(t, f.pub.names(), before)
	})

	t.Run("a failed publication does not fail the call", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.pub.err = errors.New("broker down")
		before := testutil.ToFloat64(metrics.PublishErrorsTotal)

		_, err := f.engine.OpenTokenAccount(t.Context(), f.d, f.user)
		require.NoError(t, err)
		require.GreaterOrEqual(t, testutil.ToFloat64(metrics.PublishErrorsTotal), before+1)
	})

	t.Run("records operations by fault kind", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		c := metrics.OperationsTotal.WithLabelValues("lockvault", "lock", "invalid_parameter")
		before := testutil.ToFloat64(c)

		_, err := f.engine.Lock(t.Context(), f.d, f.user, 0)
		require.ErrorIs(t, err, lockvault.ErrZeroLockAmount)
		require.GreaterOrEqual(t, testutil.ToFloat64(c), before+1)
	})

	t.Run("overview of an unknown owner is empty", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		ov, err := f.engine.Overview(t.Context(), f.d, solana.NewWallet().PublicKey())
		require.NoError(t, err)
		require.Zero(t, ov.Tokens)
		require.Zero(t, ov.Credits)
		require.False(t, ov.Session.InSession)
	})
}
