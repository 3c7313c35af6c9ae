package engine_test

import (
	"encoding/json"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/engine"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/match"
	"github.com/malbeclabs/gameledger/engine/pkg/stakevault"
	"github.com/malbeclabs/gameledger/engine/pkg/treasury"
	"github.com/stretchr/testify/require"
)

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestGameLedger_Engine_UpdateSetting(t *testing.T) {
	t.Parallel()

	t.Run("updates a scalar field", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.engine.UpdateSetting(t.Context(), f.d, f.admin, engine.SettingUpdate{Module: "match", Field: "afk_timeout", Value: raw(t, 120)})
		require.NoError(t, err)

		got, err := f.engine.ModuleSettings(t.Context(), f.d, "match")
		require.NoError(t, err)
		require.Equal(t, int64(120), got.(*match.Settings).AFKTimeout)
	})

	t.Run("updates a composite field", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.engine.UpdateSetting(t.Context(), f.d, f.admin, engine.SettingUpdate{
			Module: "stakevault",
			Field:  "apr",
			Value:  json.RawMessage(`{"start":30,"step":2,"floor":4}`),
		})
		require.NoError(t, err)

		got, err := f.engine.ModuleSettings(t.Context(), f.d, "stakevault")
		require.NoError(t, err)
		st := got.(*stakevault.Settings)
		require.Equal(t, uint8(30), st.APRStart)
		require.Equal(t, uint8(2), st.APRStep)
		require.Equal(t, uint8(4), st.APRFloor)
	})

	t.Run("maps treasury shares onto the deployment funds", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		shares := engine.TreasuryParams{PlayToEarnShare: 50, StakeRewardShare: 30, CompanyShare: 10, TeamShare: 10}
		_, err := f.engine.UpdateSetting(t.Context(), f.d, f.admin, engine.SettingUpdate{Module: "treasury", Field: "shares", Value: raw(t, shares)})
		require.NoError(t, err)

		got, err := f.engine.ModuleSettings(t.Context(), f.d, "treasury")
		require.NoError(t, err)
		st := got.(*treasury.Settings)
		require.Len(t, st.Destinations, 4)
		require.Equal(t, f.d.PlayToEarnFund, st.Destinations[0].Fund)
		require.Equal(t, uint8(50), st.Destinations[0].Share)
	})

	t.Run("rejects a signer without the role", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.engine.UpdateSetting(t.Context(), f.d, f.user, engine.SettingUpdate{Module: "ledger", Field: "burn_period", Value: raw(t, 60)})
		require.ErrorIs(t, err, faults.ErrInvalidUpdateAuth)
		_, err = f.engine.UpdateSetting(t.Context(), f.d, f.user, engine.SettingUpdate{Module: "ledger", Field: "admin", Value: raw(t, solana.NewWallet().PublicKey())})
		require.ErrorIs(t, err, faults.ErrInvalidAdmin)
	})

	t.Run("rejects unknown modules, fields and bad values", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.engine.UpdateSetting(t.Context(), f.d, f.admin, engine.SettingUpdate{Module: "casino", Field: "x"})
		require.ErrorIs(t, err, engine.ErrUnknownModule)
		_, err = f.engine.UpdateSetting(t.Context(), f.d, f.admin, engine.SettingUpdate{Module: "match", Field: "x"})
		require.ErrorIs(t, err, engine.ErrUnknownSetting)
		_, err = f.engine.UpdateSetting(t.Context(), f.d, f.admin, engine.SettingUpdate{Module: "match", Field: "royalty", Value: json.RawMessage(`"lots"`)})
		require.ErrorIs(t, err, engine.ErrInvalidValue)
		_, err = f.engine.ModuleSettings(t.Context(), f.d, "casino")
		require.ErrorIs(t, err, engine.ErrUnknownModule)
	})

	t.Run("lists fields", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, []string{"admin", "burn_period", "burners", "minters", "update_authority"}, engine.SettingFields("ledger"))
		require.Empty(t, engine.SettingFields("casino"))
	})
}
