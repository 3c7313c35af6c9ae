package stakevault_test

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/malbeclabs/gameledger/engine/pkg/stakevault"
	"github.com/malbeclabs/gameledger/engine/pkg/token"
	gltesting "github.com/malbeclabs/gameledger/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

const (
	day    = 24 * time.Hour
	stake  = uint64(1_000_000_000_000)
	funded = uint64(100_000_000_000)
)

type fixtureParams struct {
	royalty    uint8
	rewardFund uint64
}

type fixture struct {
	clock      *clockwork.FakeClock
	host       *host.Memory
	vault      *stakevault.Vault
	settings   solana.PublicKey
	admin      solana.PublicKey
	updater    solana.PublicKey
	treasury   solana.PublicKey
	rewardFund solana.PublicKey
	fund       solana.PublicKey
	user       solana.PublicKey
	userAcc    solana.PublicKey
}

func newFixture(t *testing.T, p fixtureParams) *fixture {
	t.Helper()
	clock := gltesting.NewClock()
	h, err := host.NewMemory(host.MemoryConfig{Logger: gltesting.NewLogger(), Clock: clock})
	require.NoError(t, err)
	v, err := stakevault.New(stakevault.Config{Logger: gltesting.NewLogger()})
	require.NoError(t, err)

	f := &fixture{
		clock:      clock,
		host:       h,
		vault:      v,
		settings:   solana.NewWallet().PublicKey(),
		admin:      solana.NewWallet().PublicKey(),
		updater:    solana.NewWallet().PublicKey(),
		treasury:   solana.NewWallet().PublicKey(),
		rewardFund: solana.NewWallet().PublicKey(),
		fund:       solana.NewWallet().PublicKey(),
		user:       solana.NewWallet().PublicKey(),
		userAcc:    solana.NewWallet().PublicKey(),
	}
	mint := solana.NewWallet().PublicKey()
	treasuryAuth, _, err := stakevault.TreasuryAuthority(f.settings)
	require.NoError(t, err)
	fundAuth, _, err := stakevault.RewardFundAuthority(f.settings)
	require.NoError(t, err)

	_, err = h.Atomic(t.Context(), []solana.PublicKey{f.admin}, func(tx host.Tx) error {
		admin := authority.User(f.admin)
		require.NoError(t, token.CreateMint(tx, mint, f.admin, 9))
		require.NoError(t, token.CreateAccount(tx, f.treasury, mint, treasuryAuth))
		require.NoError(t, token.CreateAccount(tx, f.rewardFund, mint, fundAuth))
		require.NoError(t, token.CreateAccount(tx, f.fund, mint, f.admin))
		require.NoError(t, token.CreateAccount(tx, f.userAcc, mint, f.user))
		require.NoError(t, token.MintTo(tx, mint, f.userAcc, admin, 3*stake))
		if p.rewardFund > 0 {
			require.NoError(t, token.MintTo(tx, mint, f.rewardFund, admin, p.rewardFund))
		}
		return v.Initialize(tx, f.settings, admin, stakevault.InitParams{
			Admin:            f.admin,
			UpdateAuthority:  f.updater,
			Mint:             mint,
			AccumulativeFund: f.fund,
			Treasury:         f.treasury,
			RewardFund:       f.rewardFund,
			EpochPeriodDays:  10,
			MinStake:         1000,
			HoldPeriodDays:   30,
			HoldRoyalty:      30,
			Royalty:          p.royalty,
			APRStart:         45,
			APRStep:          1,
			APRFloor:         5,
		})
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) stake(t *testing.T, amount uint64) (*stakevault.StakeReceipt, error) {
	var r *stakevault.StakeReceipt
	_, err := f.host.Atomic(t.Context(), []solana.PublicKey{f.user}, func(tx host.Tx) error {
		var err error
		r, err = f.vault.Stake(tx, f.settings, authority.User(f.user), f.userAcc, amount)
		return err
	})
	return r, err
}

func (f *fixture) withdraw(t *testing.T) (*stakevault.WithdrawReceipt, error) {
	var r *stakevault.WithdrawReceipt
	_, err := f.host.Atomic(t.Context(), []solana.PublicKey{f.user}, func(tx host.Tx) error {
		var err error
		r, err = f.vault.Withdraw(tx, f.settings, authority.User(f.user), f.userAcc)
		return err
	})
	return r, err
}

func (f *fixture) balance(t *testing.T, key solana.PublicKey) uint64 {
	t.Helper()
	var b uint64
	require.NoError(t, f.host.View(t.Context(), func(tx host.Tx) error {
		var err error
		b, err = token.Balance(tx, key)
		return err
	}))
	return b
}

func (f *fixture) loadSettings(t *testing.T) *stakevault.Settings {
	t.Helper()
	var st *stakevault.Settings
	require.NoError(t, f.host.View(t.Context(), func(tx host.Tx) error {
		var err error
		st, err = f.vault.Settings(tx, f.settings)
		return err
	}))
	return st
}

func TestGameLedger_StakeVault_Initialize(t *testing.T) {
	t.Parallel()

	t.Run("start time defaults to now", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, fixtureParams{})
		st := f.loadSettings(t)
		require.Equal(t, gltesting.Epoch.Unix(), st.StartTime)
		require.Equal(t, uint8(45), st.CurrentAPR(st.StartTime))
		require.Equal(t, uint8(43), st.CurrentAPR(gltesting.Epoch.Add(25*day).Unix()))
	})

	t.Run("rejects invalid schedules", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			st   stakevault.Settings
			want error
		}{
			{"zero epoch", stakevault.Settings{MinStake: 1, HoldPeriodDays: 1, APRStart: 10, APRStep: 1}, stakevault.ErrInvalidEpochPeriodDays},
			{"zero min stake", stakevault.Settings{EpochPeriodDays: 1, HoldPeriodDays: 1, APRStart: 10, APRStep: 1}, stakevault.ErrInvalidMinStakeAmount},
			{"zero hold", stakevault.Settings{EpochPeriodDays: 1, MinStake: 1, APRStart: 10, APRStep: 1}, stakevault.ErrInvalidHoldPeriodDays},
			{"royalty above 100", stakevault.Settings{EpochPeriodDays: 1, MinStake: 1, HoldPeriodDays: 1, Royalty: 101, APRStart: 10, APRStep: 1}, faults.ErrInvalidPercent},
			{"zero step", stakevault.Settings{EpochPeriodDays: 1, MinStake: 1, HoldPeriodDays: 1, APRStart: 10}, stakevault.ErrInvalidAPR},
			{"floor above start", stakevault.Settings{EpochPeriodDays: 1, MinStake: 1, HoldPeriodDays: 1, APRStart: 10, APRStep: 1, APRFloor: 11}, stakevault.ErrInvalidAPR},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				require.ErrorIs(t, tt.st.Validate(), tt.want)
			})
		}
	})
}

func TestGameLedger_StakeVault_Stake(t *testing.T) {
	t.Parallel()

	t.Run("withholds the entry royalty", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, fixtureParams{royalty: 8})
		r, err := f.stake(t, 1000)
		require.NoError(t, err)
		require.Equal(t, &stakevault.StakeReceipt{Royalty: 80, Net: 920}, r)
		require.Equal(t, uint64(80), f.balance(t, f.fund))
		require.Equal(t, uint64(920), f.balance(t, f.treasury))
		require.Equal(t, uint64(920), f.loadSettings(t).TotalStaked)
	})

	t.Run("rejects stakes below the minimum", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, fixtureParams{})
		_, err := f.stake(t, 999)
		require.ErrorIs(t, err, stakevault.ErrMinStakeAmountExceeded)
		require.Equal(t, faults.KindStateConflict, faults.KindOf(err))
	})

	t.Run("rejects additional stake", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, fixtureParams{})
		_, err := f.stake(t, 1000)
		require.NoError(t, err)
		_, err = f.stake(t, 1000)
		require.ErrorIs(t, err, stakevault.ErrAdditionalStakeNotAllowed)
	})
}

func TestGameLedger_StakeVault_Withdraw(t *testing.T) {
	t.Parallel()

	t.Run("no epoch crossed pays no reward", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, fixtureParams{rewardFund: funded})
		_, err := f.stake(t, stake)
		require.NoError(t, err)
		f.clock.Advance(9 * day)

		r, err := f.withdraw(t)
		require.NoError(t, err)
		require.Equal(t, &stakevault.WithdrawReceipt{Principal: stake, Penalty: 300_000_000_000}, r)
		require.Equal(t, 3*stake-300_000_000_000, f.balance(t, f.userAcc))
		require.Equal(t, uint64(300_000_000_000), f.balance(t, f.fund))
		require.Equal(t, uint64(0), f.balance(t, f.treasury))
		require.Equal(t, uint64(0), f.loadSettings(t).TotalStaked)
	})

	t.Run("one epoch compounds at the starting apr", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, fixtureParams{rewardFund: funded})
		_, err := f.stake(t, stake)
		require.NoError(t, err)
		f.clock.Advance(10 * day)

		r, err := f.withdraw(t)
		require.NoError(t, err)
		require.Equal(t, uint64(12_397_391_808), r.Reward)
		require.Equal(t, uint64(300_000_000_000), r.Penalty)
		require.Equal(t, uint64(1), r.FirstEpoch)
		require.Equal(t, uint64(1), r.LastEpoch)
		require.Equal(t, funded-12_397_391_808, f.balance(t, f.rewardFund))
	})

	t.Run("apr steps down each epoch", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, fixtureParams{rewardFund: funded})
		_, err := f.stake(t, stake)
		require.NoError(t, err)
		f.clock.Advance(20 * day)

		r, err := f.withdraw(t)
		require.NoError(t, err)
		require.Equal(t, uint64(24_668_051_444), r.Reward)
	})

	t.Run("no hold penalty once the hold period has passed", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, fixtureParams{rewardFund: funded})
		_, err := f.stake(t, stake)
		require.NoError(t, err)
		f.clock.Advance(30 * day)

		r, err := f.withdraw(t)
		require.NoError(t, err)
		require.Zero(t, r.Penalty)
		require.Greater(t, r.Reward, uint64(24_668_051_444))
		require.Equal(t, 3*stake+r.Reward, f.balance(t, f.userAcc))
	})

	t.Run("mid-epoch stake skips the partial epoch", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, fixtureParams{rewardFund: funded})
		f.clock.Advance(5 * day)
		_, err := f.stake(t, stake)
		require.NoError(t, err)

		f.clock.Advance(14 * day)
		st := f.loadSettings(t)
		var earned uint64
		require.NoError(t, f.host.View(t.Context(), func(tx host.Tx) error {
			pos, err := f.vault.Position(tx, f.settings, f.user)
			require.NoError(t, err)
			earned, _, _, err = stakevault.Earned(st, pos, tx.Now().Unix())
			return err
		}))
		require.Zero(t, earned)

		f.clock.Advance(day)
		r, err := f.withdraw(t)
		require.NoError(t, err)
		require.Equal(t, uint64(2), r.FirstEpoch)
		require.Equal(t, uint64(2), r.LastEpoch)
		require.NotZero(t, r.Reward)
	})

	t.Run("reward is capped at the reward fund balance", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, fixtureParams{rewardFund: 1_000_000_000})
		_, err := f.stake(t, stake)
		require.NoError(t, err)
		f.clock.Advance(10 * day)

		r, err := f.withdraw(t)
		require.NoError(t, err)
		require.Equal(t, uint64(1_000_000_000), r.Reward)
		require.Equal(t, uint64(11_397_391_808), r.Shortfall)
		require.Equal(t, uint64(0), f.balance(t, f.rewardFund))
	})

	t.Run("fails without a position", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, fixtureParams{})
		_, err := f.withdraw(t)
		require.ErrorIs(t, err, stakevault.ErrNothingToWithdraw)
	})

	t.Run("requires the owner signature", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, fixtureParams{})
		_, err := f.stake(t, 1000)
		require.NoError(t, err)
		_, err = f.host.Atomic(t.Context(), nil, func(tx host.Tx) error {
			_, err := f.vault.Withdraw(tx, f.settings, authority.User(f.user), f.userAcc)
			return err
		})
		require.ErrorIs(t, err, faults.ErrMissingSignature)
	})
}

func TestGameLedger_StakeVault_Setters(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureParams{})
	exec := func(signer solana.PublicKey, fn func(tx host.Tx) error) error {
		_, err := f.host.Atomic(t.Context(), []solana.PublicKey{signer}, fn)
		return err
	}
	updater := authority.User(f.updater)

	require.ErrorIs(t, exec(f.updater, func(tx host.Tx) error {
		return f.vault.UpdateAPR(tx, f.settings, updater, 10, 1, 20)
	}), stakevault.ErrInvalidAPR)
	require.ErrorIs(t, exec(f.updater, func(tx host.Tx) error {
		return f.vault.UpdateMinStake(tx, f.settings, updater, 0)
	}), stakevault.ErrInvalidMinStakeAmount)
	require.ErrorIs(t, exec(f.admin, func(tx host.Tx) error {
		return f.vault.UpdateMinStake(tx, f.settings, authority.User(f.admin), 10)
	}), faults.ErrInvalidUpdateAuth)

	next := solana.NewWallet().PublicKey()
	require.NoError(t, exec(f.admin, func(tx host.Tx) error {
		return f.vault.UpdateAdmin(tx, f.settings, authority.User(f.admin), next)
	}))
	require.NoError(t, exec(f.updater, func(tx host.Tx) error {
		if err := f.vault.UpdateMinStake(tx, f.settings, updater, 5000); err != nil {
			return err
		}
		if err := f.vault.UpdateEpochPeriodDays(tx, f.settings, updater, 7); err != nil {
			return err
		}
		if err := f.vault.UpdateHoldPeriodDays(tx, f.settings, updater, 14); err != nil {
			return err
		}
		if err := f.vault.UpdateHoldRoyalty(tx, f.settings, updater, 10); err != nil {
			return err
		}
		if err := f.vault.UpdateRoyalty(tx, f.settings, updater, 2); err != nil {
			return err
		}
		return f.vault.UpdateAPR(tx, f.settings, updater, 30, 2, 10)
	}))

	st := f.loadSettings(t)
	require.Equal(t, next, st.Admin)
	require.Equal(t, uint64(5000), st.MinStake)
	require.Equal(t, uint32(7), st.EpochPeriodDays)
	require.Equal(t, uint8(30), st.APRStart)

	_, err := f.stake(t, 4999)
	require.ErrorIs(t, err, stakevault.ErrMinStakeAmountExceeded)
}
