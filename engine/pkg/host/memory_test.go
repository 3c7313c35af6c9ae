package host_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	gltesting "github.com/malbeclabs/gameledger/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Value uint64 `json:"value"`
}

func newMemory(t *testing.T) *host.Memory {
	h, err := host.NewMemory(host.MemoryConfig{Logger: gltesting.NewLogger(), Clock: gltesting.NewClock()})
	require.NoError(t, err)
	return h
}

func TestGameLedger_Host_NewMemory(t *testing.T) {
	t.Parallel()

	t.Run("returns error when config validation fails", func(t *testing.T) {
		t.Parallel()

		_, err := host.NewMemory(host.MemoryConfig{})
		require.Error(t, err)
		require.Contains(t, err.Error(), "logger is required")
	})

	t.Run("defaults to a real clock", func(t *testing.T) {
		t.Parallel()

		h, err := host.NewMemory(host.MemoryConfig{Logger: gltesting.NewLogger()})
		require.NoError(t, err)
		require.WithinDuration(t, time.Now(), h.Clock().Now(), time.Minute)
	})
}

func TestGameLedger_Host_Memory_Atomic(t *testing.T) {
	t.Parallel()

	program := solana.NewWallet().PublicKey()
	key := solana.NewWallet().PublicKey()

	t.Run("commits writes and events", func(t *testing.T) {
		t.Parallel()

		h := newMemory(t)
		receipt, err := h.Atomic(t.Context(), nil, func(tx host.Tx) error {
			if err := host.Init(tx, key, "counter", program, &counter{Value: 1}); err != nil {
				return err
			}
			tx.Emit("test", "created", map[string]any{"value": 1})
			return nil
		})
		require.NoError(t, err)
		require.Len(t, receipt.Events, 1)
		require.Equal(t, gltesting.Epoch, receipt.Time)
		require.Equal(t, receipt.TxID, receipt.Events[0].TxID)

		err = h.View(t.Context(), func(tx host.Tx) error {
			c, err := host.Load[counter](tx, key, "counter")
			require.NoError(t, err)
			require.Equal(t, uint64(1), c.Value)
			return nil
		})
		require.NoError(t, err)
		require.Len(t, h.Journal(), 1)
	})

	t.Run("discards every write when the function fails", func(t *testing.T) {
		t.Parallel()

		h := newMemory(t)
		_, err := h.Atomic(t.Context(), nil, func(tx host.Tx) error {
			return host.Init(tx, key, "counter", program, &counter{Value: 1})
		})
		require.NoError(t, err)

		boom := errors.New("boom")
		_, err = h.Atomic(t.Context(), nil, func(tx host.Tx) error {
			if err := host.Store(tx, key, "counter", program, &counter{Value: 99}); err != nil {
				return err
			}
			tx.Emit("test", "updated", nil)
			return boom
		})
		require.ErrorIs(t, err, boom)

		err = h.View(t.Context(), func(tx host.Tx) error {
			c, err := host.Load[counter](tx, key, "counter")
			require.NoError(t, err)
			require.Equal(t, uint64(1), c.Value)
			return nil
		})
		require.NoError(t, err)
		require.Empty(t, h.Journal())
	})

	t.Run("create is once only", func(t *testing.T) {
		t.Parallel()

		h := newMemory(t)
		_, err := h.Atomic(t.Context(), nil, func(tx host.Tx) error {
			if err := host.Init(tx, key, "counter", program, &counter{}); err != nil {
				return err
			}
			return host.Init(tx, key, "counter", program, &counter{})
		})
		require.ErrorIs(t, err, faults.ErrAccountExists)
	})

	t.Run("rejects writes by another program", func(t *testing.T) {
		t.Parallel()

		h := newMemory(t)
		other := solana.NewWallet().PublicKey()
		_, err := h.Atomic(t.Context(), nil, func(tx host.Tx) error {
			if err := host.Init(tx, key, "counter", program, &counter{}); err != nil {
				return err
			}
			return host.Store(tx, key, "counter", other, &counter{Value: 5})
		})
		require.ErrorIs(t, err, faults.ErrAccountOwner)
		require.Equal(t, faults.KindAccessDenied, faults.KindOf(err))
	})

	t.Run("load checks kind and presence", func(t *testing.T) {
		t.Parallel()

		h := newMemory(t)
		_, err := h.Atomic(t.Context(), nil, func(tx host.Tx) error {
			return host.Init(tx, key, "counter", program, &counter{})
		})
		require.NoError(t, err)

		err = h.View(t.Context(), func(tx host.Tx) error {
			_, err := host.Load[counter](tx, key, "wallet")
			require.ErrorIs(t, err, faults.ErrAccountKind)

			_, err = host.Load[counter](tx, solana.NewWallet().PublicKey(), "counter")
			require.ErrorIs(t, err, faults.ErrAccountNotFound)

			ok, err := host.Exists(tx, key)
			require.NoError(t, err)
			require.True(t, ok)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("exposes signers", func(t *testing.T) {
		t.Parallel()

		h := newMemory(t)
		signer := solana.NewWallet().PublicKey()
		_, err := h.Atomic(t.Context(), []solana.PublicKey{signer}, func(tx host.Tx) error {
			require.True(t, tx.IsSigner(signer))
			require.False(t, tx.IsSigner(key))
			require.Equal(t, []solana.PublicKey{signer}, tx.Signers())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("view discards writes", func(t *testing.T) {
		t.Parallel()

		h := newMemory(t)
		err := h.View(t.Context(), func(tx host.Tx) error {
			return host.Init(tx, key, "counter", program, &counter{})
		})
		require.NoError(t, err)

		err = h.View(t.Context(), func(tx host.Tx) error {
			ok, err := host.Exists(tx, key)
			require.NoError(t, err)
			require.False(t, ok)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		h := newMemory(t)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := h.Atomic(ctx, nil, func(tx host.Tx) error { return nil })
		require.ErrorIs(t, err, context.Canceled)
	})
}
