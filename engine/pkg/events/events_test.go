package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/malbeclabs/gameledger/engine/pkg/events"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	gltesting "github.com/malbeclabs/gameledger/utils/pkg/testing"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func sampleEvents() []host.Event {
	txID := uuid.New()
	return []host.Event{
		{TxID: txID, Seq: 0, Module: "ledger", Name: "minted", Time: gltesting.Epoch, Attrs: map[string]any{"amount": float64(5)}},
		{TxID: txID, Seq: 1, Module: "lockvault", Name: "locked", Time: gltesting.Epoch, Attrs: map[string]any{"net": float64(920)}},
	}
}

type failing struct{ err error }

func (f failing) Publish(context.Context, []host.Event) error { return f.err }

func TestGameLedger_Events_LogPublisher(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := events.NewLogPublisher(log, slog.LevelInfo)

	require.NoError(t, p.Publish(t.Context(), sampleEvents()))
	out := buf.String()
	require.Contains(t, out, "events: ledger.minted")
	require.Contains(t, out, "events: lockvault.locked")
}

func TestGameLedger_Events_Multi(t *testing.T) {
	t.Parallel()

	errA := errors.New("a failed")
	errB := errors.New("b failed")
	m := events.Multi{failing{errA}, events.Discard{}, failing{errB}}

	err := m.Publish(t.Context(), sampleEvents())
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
	require.NoError(t, events.Multi{events.Discard{}}.Publish(t.Context(), nil))
}

func TestGameLedger_Events_RedisPublisher(t *testing.T) {
	t.Parallel()

	t.Run("returns error when config validation fails", func(t *testing.T) {
		t.Parallel()

		_, err := events.NewRedisPublisher(events.RedisConfig{Logger: gltesting.NewLogger()})
		require.Error(t, err)
		require.Contains(t, err.Error(), "redis client is required")
	})

	t.Run("publishes on per-module channels", func(t *testing.T) {
		t.Parallel()
		requireRedis(t)

		client := redis.NewClient(&redis.Options{Addr: testRedis.Addr()})
		t.Cleanup(func() { _ = client.Close() })

		p, err := events.NewRedisPublisher(events.RedisConfig{
			Logger:        gltesting.NewLogger(),
			Client:        client,
			ChannelPrefix: "test-" + uuid.NewString(),
		})
		require.NoError(t, err)

		sub := client.Subscribe(t.Context(), p.Channel("ledger"), p.Channel("lockvault"))
		t.Cleanup(func() { _ = sub.Close() })
		_, err = sub.Receive(t.Context())
		require.NoError(t, err)

		sent := sampleEvents()
		require.NoError(t, p.Publish(t.Context(), sent))

		ch := sub.Channel()
		for i := range sent {
			select {
			case msg := <-ch:
				var got host.Event
				require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
				require.Equal(t, p.Channel(sent[i].Module), msg.Channel)
				require.Equal(t, sent[i].Name, got.Name)
				require.Equal(t, sent[i].TxID, got.TxID)
				require.Equal(t, sent[i].Attrs, got.Attrs)
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for event %d", i)
			}
		}
	})
}
