package match

import (
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
)

func (m *Match) update(tx host.Tx, key solana.PublicKey, signer authority.Signer, role authority.Role, field string, mutate func(*Settings)) error {
	st, err := m.Settings(tx, key)
	if err != nil {
		return err
	}
	if err := st.Require(tx, signer, role); err != nil {
		return err
	}
	mutate(st)
	if err := st.Validate(); err != nil {
		return err
	}
	if err := host.Store(tx, key, KindSettings, ProgramID, st); err != nil {
		return err
	}
	tx.Emit(ModuleName, "settings_updated", map[string]any{"settings": key.String(), "field": field})
	m.log.Info("match: settings updated", "settings", key, "field", field)
	return nil
}

func (m *Match) UpdateAdmin(tx host.Tx, key solana.PublicKey, admin authority.Signer, next solana.PublicKey) error {
	return m.update(tx, key, admin, authority.RoleAdmin, "admin", func(st *Settings) { st.Admin = next })
}

func (m *Match) SetUpdateAuthority(tx host.Tx, key solana.PublicKey, admin authority.Signer, next solana.PublicKey) error {
	return m.update(tx, key, admin, authority.RoleAdmin, "update_authority", func(st *Settings) { st.UpdateAuthority = next })
}

// UpdateValidator is an identity change and needs the admin.
func (m *Match) UpdateValidator(tx host.Tx, key solana.PublicKey, admin authority.Signer, next solana.PublicKey) error {
	return m.update(tx, key, admin, authority.RoleAdmin, "validator", func(st *Settings) { st.Validator = next })
}

func (m *Match) UpdateAFKTimeout(tx host.Tx, key solana.PublicKey, updater authority.Signer, seconds int64) error {
	return m.update(tx, key, updater, authority.RoleUpdateAuthority, "afk_timeout", func(st *Settings) { st.AFKTimeout = seconds })
}

func (m *Match) UpdateRoyalty(tx host.Tx, key solana.PublicKey, updater authority.Signer, pct uint8) error {
	return m.update(tx, key, updater, authority.RoleUpdateAuthority, "royalty", func(st *Settings) { st.Royalty = pct })
}

func (m *Match) UpdateRewardCoefficients(tx host.Tx, key solana.PublicKey, updater authority.Signer, reward, dailyCap uint32) error {
	return m.update(tx, key, updater, authority.RoleUpdateAuthority, "reward_coefficients", func(st *Settings) {
		st.RewardCoefficient, st.DailyCapCoefficient = reward, dailyCap
	})
}

func (m *Match) UpdateDailyCap(tx host.Tx, key solana.PublicKey, updater authority.Signer, amount uint64) error {
	return m.update(tx, key, updater, authority.RoleUpdateAuthority, "daily_cap", func(st *Settings) { st.DailyCap = amount })
}
