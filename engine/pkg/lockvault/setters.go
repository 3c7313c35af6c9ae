package lockvault

import (
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
	"github.com/malbeclabs/gameledger/engine/pkg/calc"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
)

func (v *Vault) update(tx host.Tx, key solana.PublicKey, signer authority.Signer, role authority.Role, field string, mutate func(*Settings)) error {
	st, err := v.Settings(tx, key)
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
	v.log.Info("lockvault: settings updated", "settings", key, "field", field)
	return nil
}

func (v *Vault) UpdateAdmin(tx host.Tx, key solana.PublicKey, admin authority.Signer, next solana.PublicKey) error {
	return v.update(tx, key, admin, authority.RoleAdmin, "admin", func(st *Settings) { st.Admin = next })
}

func (v *Vault) SetUpdateAuthority(tx host.Tx, key solana.PublicKey, admin authority.Signer, next solana.PublicKey) error {
	return v.update(tx, key, admin, authority.RoleAdmin, "update_authority", func(st *Settings) { st.UpdateAuthority = next })
}

func (v *Vault) UpdateRoyalty(tx host.Tx, key solana.PublicKey, updater authority.Signer, pct uint8) error {
	return v.update(tx, key, updater, authority.RoleUpdateAuthority, "royalty", func(st *Settings) { st.Royalty = pct })
}

func (v *Vault) UpdateUnlockRoyalty(tx host.Tx, key solana.PublicKey, updater authority.Signer, pct uint8) error {
	return v.update(tx, key, updater, authority.RoleUpdateAuthority, "unlock_royalty", func(st *Settings) { st.UnlockRoyalty = pct })
}

func (v *Vault) UpdateMaturityPeriod(tx host.Tx, key solana.PublicKey, updater authority.Signer, period int64) error {
	return v.update(tx, key, updater, authority.RoleUpdateAuthority, "maturity_period", func(st *Settings) { st.MaturityPeriod = period })
}

func (v *Vault) UpdateAccrualPeriod(tx host.Tx, key solana.PublicKey, updater authority.Signer, period int64) error {
	return v.update(tx, key, updater, authority.RoleUpdateAuthority, "accrual_period", func(st *Settings) { st.AccrualPeriod = period })
}

func (v *Vault) UpdateRewardTable(tx host.Tx, key solana.PublicKey, updater authority.Signer, table calc.RewardTable) error {
	return v.update(tx, key, updater, authority.RoleUpdateAuthority, "reward_table", func(st *Settings) { st.RewardTable = table })
}
