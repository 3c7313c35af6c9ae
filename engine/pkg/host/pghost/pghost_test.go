package pghost_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/malbeclabs/gameledger/engine/pkg/host/pghost"
	"github.com/malbeclabs/gameledger/utils/pkg/retry"
	gltesting "github.com/malbeclabs/gameledger/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type balance struct {
	Amount uint64 `json:"amount"`
}

func newHost(t *testing.T) *pghost.Host {
	h, err := pghost.New(pghost.Config{
		Logger: gltesting.NewLogger(),
		Pool:   gltesting.NewTestPool(t, testDB),
		Clock:  gltesting.NewClock(),
		Retry:  retry.Config{MaxAttempts: 30, BaseBackoff: 5 * time.Millisecond, MaxBackoff: 50 * time.Millisecond},
	})
	require.NoError(t, err)
	return h
}

func TestGameLedger_PgHost_New(t *testing.T) {
	t.Parallel()

	t.Run("returns error when config validation fails", func(t *testing.T) {
		t.Parallel()

		_, err := pghost.New(pghost.Config{})
		require.Error(t, err)
		require.Contains(t, err.Error(), "logger is required")

		_, err = pghost.New(pghost.Config{Logger: gltesting.NewLogger()})
		require.Error(t, err)
		require.Contains(t, err.Error(), "pool is required")
	})
}

func TestGameLedger_PgHost_IsSerializationFailure(t *testing.T) {
	t.Parallel()

	require.True(t, pghost.IsSerializationFailure(&pgconn.PgError{Code: "40001"}))
	require.True(t, pghost.IsSerializationFailure(&pgconn.PgError{Code: "40P01"}))
	require.False(t, pghost.IsSerializationFailure(&pgconn.PgError{Code: "23505"}))
	require.False(t, pghost.IsSerializationFailure(errors.New("40001")))
}

func TestGameLedger_PgHost_Atomic(t *testing.T) {
	t.Parallel()
	requireDB(t)

	program := solana.NewWallet().PublicKey()

	t.Run("commits and journals events", func(t *testing.T) {
		t.Parallel()

		h := newHost(t)
		key := solana.NewWallet().PublicKey()
		receipt, err := h.Atomic(t.Context(), nil, func(tx host.Tx) error {
			if err := host.Init(tx, key, "balance", program, &balance{Amount: 10}); err != nil {
				return err
			}
			tx.Emit("test", "created", map[string]any{"amount": 10})
			return nil
		})
		require.NoError(t, err)

		err = h.View(t.Context(), func(tx host.Tx) error {
			b, err := host.Load[balance](tx, key, "balance")
			require.NoError(t, err)
			require.Equal(t, uint64(10), b.Amount)
			return nil
		})
		require.NoError(t, err)

		events, err := h.TxEvents(t.Context(), receipt.TxID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, "created", events[0].Name)
		require.EqualValues(t, 10, events[0].Attrs["amount"])
	})

	t.Run("rolls back on error", func(t *testing.T) {
		t.Parallel()

		h := newHost(t)
		key := solana.NewWallet().PublicKey()
		_, err := h.Atomic(t.Context(), nil, func(tx host.Tx) error {
			return host.Init(tx, key, "balance", program, &balance{Amount: 1})
		})
		require.NoError(t, err)

		boom := errors.New("boom")
		_, err = h.Atomic(t.Context(), nil, func(tx host.Tx) error {
			if err := host.Store(tx, key, "balance", program, &balance{Amount: 2}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		err = h.View(t.Context(), func(tx host.Tx) error {
			b, err := host.Load[balance](tx, key, "balance")
			require.NoError(t, err)
			require.Equal(t, uint64(1), b.Amount)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("create is once only", func(t *testing.T) {
		t.Parallel()

		h := newHost(t)
		key := solana.NewWallet().PublicKey()
		create := func(tx host.Tx) error {
			return host.Init(tx, key, "balance", program, &balance{})
		}
		_, err := h.Atomic(t.Context(), nil, create)
		require.NoError(t, err)
		_, err = h.Atomic(t.Context(), nil, create)
		require.ErrorIs(t, err, faults.ErrAccountExists)
	})

	t.Run("rejects foreign owner writes", func(t *testing.T) {
		t.Parallel()

		h := newHost(t)
		key := solana.NewWallet().PublicKey()
		_, err := h.Atomic(t.Context(), nil, func(tx host.Tx) error {
			return host.Init(tx, key, "balance", program, &balance{})
		})
		require.NoError(t, err)

		_, err = h.Atomic(t.Context(), nil, func(tx host.Tx) error {
			return host.Store(tx, key, "balance", solana.NewWallet().PublicKey(), &balance{Amount: 9})
		})
		require.ErrorIs(t, err, faults.ErrAccountOwner)
	})

	t.Run("concurrent increments serialize", func(t *testing.T) {
		t.Parallel()

		h := newHost(t)
		key := solana.NewWallet().PublicKey()
		_, err := h.Atomic(t.Context(), nil, func(tx host.Tx) error {
			return host.Init(tx, key, "balance", program, &balance{})
		})
		require.NoError(t, err)

		const workers = 4
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.Atomic(t.Context(), nil, func(tx host.Tx) error {
					b, err := host.Load[balance](tx, key, "balance")
					if err != nil {
						return err
					}
					b.Amount++
					return host.Store(tx, key, "balance", program, b)
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		err = h.View(t.Context(), func(tx host.Tx) error {
			b, err := host.Load[balance](tx, key, "balance")
			require.NoError(t, err)
			require.Equal(t, uint64(workers), b.Amount)
			return nil
		})
		require.NoError(t, err)
	})
}
