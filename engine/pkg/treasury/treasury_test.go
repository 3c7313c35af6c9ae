package treasury_test

import (
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/malbeclabs/gameledger/engine/pkg/token"
	"github.com/malbeclabs/gameledger/engine/pkg/treasury"
	gltesting "github.com/malbeclabs/gameledger/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

func TestGameLedger_Treasury_Split(t *testing.T) {
	t.Parallel()

	dests := func(shares ...uint8) []treasury.Destination {
		out := make([]treasury.Destination, len(shares))
		for i, s := range shares {
			out[i] = treasury.Destination{Share: s}
		}
		return out
	}
	sum := func(xs []uint64) uint64 {
		var s uint64
		for _, x := range xs {
			s += x
		}
		return s
	}

	t.Run("remainder goes to last destination", func(t *testing.T) {
		t.Parallel()

		amounts, err := treasury.Split(7001_000_000_001, dests(45, 40, 5, 10))
		require.NoError(t, err)
		require.Equal(t, []uint64{3150_450_000_000, 2800_400_000_000, 350_050_000_000, 700_100_000_001}, amounts)
	})

	t.Run("always drains the full balance", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			balance uint64
			shares  []uint8
		}{
			{1, []uint8{45, 40, 5, 10}},
			{99, []uint8{33, 33, 33}},
			{1000, []uint8{10, 10}},
			{1000, []uint8{90, 90, 90}},
			{math.MaxUint64, []uint8{100, 0}},
			{12345, []uint8{0}},
		}
		for _, c := range cases {
			amounts, err := treasury.Split(c.balance, dests(c.shares...))
			require.NoError(t, err)
			require.Equal(t, c.balance, sum(amounts), "balance %d shares %v", c.balance, c.shares)
		}
	})

	t.Run("shares above 100 per destination are rejected", func(t *testing.T) {
		t.Parallel()

		_, err := treasury.Split(10, dests(101, 0))
		require.ErrorIs(t, err, faults.ErrInvalidPercent)
	})
}

type fixture struct {
	host     *host.Memory
	splitter *treasury.Splitter
	settings solana.PublicKey
	admin    solana.PublicKey
	updater  solana.PublicKey
	mint     solana.PublicKey
	source   solana.PublicKey
	funds    []solana.PublicKey
}

func newFixture(t *testing.T, shares ...uint8) *fixture {
	t.Helper()
	h, err := host.NewMemory(host.MemoryConfig{Logger: gltesting.NewLogger(), Clock: gltesting.NewClock()})
	require.NoError(t, err)
	s, err := treasury.New(treasury.Config{Logger: gltesting.NewLogger()})
	require.NoError(t, err)

	f := &fixture{
		host:     h,
		splitter: s,
		settings: solana.NewWallet().PublicKey(),
		admin:    solana.NewWallet().PublicKey(),
		updater:  solana.NewWallet().PublicKey(),
		mint:     solana.NewWallet().PublicKey(),
		source:   solana.NewWallet().PublicKey(),
	}
	sourceAuth, _, err := treasury.SourceAuthority(f.settings)
	require.NoError(t, err)

	var dests []treasury.Destination
	for _, share := range shares {
		fund := solana.NewWallet().PublicKey()
		f.funds = append(f.funds, fund)
		dests = append(dests, treasury.Destination{Fund: fund, Share: share})
	}

	_, err = h.Atomic(t.Context(), []solana.PublicKey{f.admin}, func(tx host.Tx) error {
		require.NoError(t, token.CreateMint(tx, f.mint, f.admin, 9))
		require.NoError(t, token.CreateAccount(tx, f.source, f.mint, sourceAuth))
		for _, fund := range f.funds {
			require.NoError(t, token.CreateAccount(tx, fund, f.mint, f.admin))
		}
		return s.Initialize(tx, f.settings, authority.User(f.admin), treasury.InitParams{
			Admin:           f.admin,
			UpdateAuthority: f.updater,
			Mint:            f.mint,
			Source:          f.source,
			Destinations:    dests,
		})
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) fill(t *testing.T, amount uint64) {
	t.Helper()
	_, err := f.host.Atomic(t.Context(), []solana.PublicKey{f.admin}, func(tx host.Tx) error {
		return token.MintTo(tx, f.mint, f.source, authority.User(f.admin), amount)
	})
	require.NoError(t, err)
}

func (f *fixture) distribute(t *testing.T) (*treasury.Distribution, error) {
	var d *treasury.Distribution
	_, err := f.host.Atomic(t.Context(), nil, func(tx host.Tx) error {
		var err error
		d, err = f.splitter.Distribute(tx, f.settings)
		return err
	})
	return d, err
}

func (f *fixture) balance(t *testing.T, key solana.PublicKey) uint64 {
	t.Helper()
	var out uint64
	require.NoError(t, f.host.View(t.Context(), func(tx host.Tx) error {
		var err error
		out, err = token.Balance(tx, key)
		return err
	}))
	return out
}

func TestGameLedger_Treasury_Distribute(t *testing.T) {
	t.Parallel()

	t.Run("drains the source by share", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, 45, 40, 5, 10)
		f.fill(t, 7001_000_000_001)

		d, err := f.distribute(t)
		require.NoError(t, err)
		require.Equal(t, uint64(7001_000_000_001), d.Total)
		require.Equal(t, uint64(0), f.balance(t, f.source))
		require.Equal(t, uint64(3150_450_000_000), f.balance(t, f.funds[0]))
		require.Equal(t, uint64(2800_400_000_000), f.balance(t, f.funds[1]))
		require.Equal(t, uint64(350_050_000_000), f.balance(t, f.funds[2]))
		require.Equal(t, uint64(700_100_000_001), f.balance(t, f.funds[3]))

		require.NoError(t, f.host.View(t.Context(), func(tx host.Tx) error {
			st, err := f.splitter.Settings(tx, f.settings)
			require.NoError(t, err)
			require.Equal(t, gltesting.Epoch.Unix(), st.LastDistribution)
			return nil
		}))
	})

	t.Run("rejects empty source", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, 50, 50)
		_, err := f.distribute(t)
		require.ErrorIs(t, err, treasury.ErrEmptyAccumulativeFund)
		require.Equal(t, faults.KindStateConflict, faults.KindOf(err))

		f.fill(t, 3)
		_, err = f.distribute(t)
		require.NoError(t, err)
		_, err = f.distribute(t)
		require.ErrorIs(t, err, treasury.ErrEmptyAccumulativeFund)
	})
}

func TestGameLedger_Treasury_Initialize(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)

	t.Run("rejects share above 100", func(t *testing.T) {
		t.Parallel()

		_, err := f.host.Atomic(t.Context(), []solana.PublicKey{f.updater}, func(tx host.Tx) error {
			return f.splitter.UpdateShares(tx, f.settings, authority.User(f.updater), []treasury.Destination{{Fund: f.funds[0], Share: 101}})
		})
		require.ErrorIs(t, err, faults.ErrInvalidPercent)
	})

	t.Run("rejects empty destination list", func(t *testing.T) {
		t.Parallel()

		_, err := f.host.Atomic(t.Context(), []solana.PublicKey{f.updater}, func(tx host.Tx) error {
			return f.splitter.UpdateShares(tx, f.settings, authority.User(f.updater), nil)
		})
		require.ErrorIs(t, err, treasury.ErrInvalidDestinations)
	})

	t.Run("rejects source not owned by the split authority", func(t *testing.T) {
		t.Parallel()

		_, err := f.host.Atomic(t.Context(), []solana.PublicKey{f.admin}, func(tx host.Tx) error {
			return f.splitter.Initialize(tx, solana.NewWallet().PublicKey(), authority.User(f.admin), treasury.InitParams{
				Admin:        f.admin,
				Mint:         f.mint,
				Source:       f.source,
				Destinations: []treasury.Destination{{Fund: f.funds[0], Share: 100}},
			})
		})
		require.ErrorIs(t, err, faults.ErrOwnerMismatch)
	})

	t.Run("rejects the source as a destination", func(t *testing.T) {
		t.Parallel()

		settings := solana.NewWallet().PublicKey()
		source := solana.NewWallet().PublicKey()
		sourceAuth, _, err := treasury.SourceAuthority(settings)
		require.NoError(t, err)
		_, err = f.host.Atomic(t.Context(), []solana.PublicKey{f.admin}, func(tx host.Tx) error {
			require.NoError(t, token.CreateAccount(tx, source, f.mint, sourceAuth))
			return f.splitter.Initialize(tx, settings, authority.User(f.admin), treasury.InitParams{
				Admin:        f.admin,
				Mint:         f.mint,
				Source:       source,
				Destinations: []treasury.Destination{{Fund: f.funds[0], Share: 50}, {Fund: source, Share: 50}},
			})
		})
		require.ErrorIs(t, err, treasury.ErrInvalidDestinations)

		_, err = f.host.Atomic(t.Context(), []solana.PublicKey{f.updater}, func(tx host.Tx) error {
			return f.splitter.UpdateShares(tx, f.settings, authority.User(f.updater), []treasury.Destination{{Fund: f.funds[0], Share: 60}, {Fund: f.source, Share: 40}})
		})
		require.ErrorIs(t, err, treasury.ErrInvalidDestinations)
	})

	t.Run("only update authority changes shares", func(t *testing.T) {
		t.Parallel()

		_, err := f.host.Atomic(t.Context(), []solana.PublicKey{f.admin}, func(tx host.Tx) error {
			return f.splitter.UpdateShares(tx, f.settings, authority.User(f.admin), []treasury.Destination{{Fund: f.funds[0], Share: 10}})
		})
		require.ErrorIs(t, err, faults.ErrInvalidUpdateAuth)
	})
}
