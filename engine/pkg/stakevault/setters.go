package stakevault

import (
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
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
	v.log.Info("stakevault: settings updated", "settings", key, "field", field)
	return nil
}

func (v *Vault) UpdateAdmin(tx host.Tx, key solana.PublicKey, admin authority.Signer, next solana.PublicKey) error {
	return v.update(tx, key, admin, authority.RoleAdmin, "admin", func(st *Settings) { st.Admin = next })
}

func (v *Vault) SetUpdateAuthority(tx host.Tx, key solana.PublicKey, admin authority.Signer, next solana.PublicKey) error {
	return v.update(tx, key, admin, authority.RoleAdmin, "update_authority", func(st *Settings) { st.UpdateAuthority = next })
}

func (v *Vault) UpdateEpochPeriodDays(tx host.Tx, key solana.PublicKey, updater authority.Signer, days uint32) error {
	return v.update(tx, key, updater, authority.RoleUpdateAuthority, "epoch_period_days", func(st *Settings) { st.EpochPeriodDays = days })
}

func (v *Vault) UpdateMinStake(tx host.Tx, key solana.PublicKey, updater authority.Signer, amount uint64) error {
	return v.update(tx, key, updater, authority.RoleUpdateAuthority, "min_stake", func(st *Settings) { st.MinStake = amount })
}

func (v *Vault) UpdateHoldPeriodDays(tx host.Tx, key solana.PublicKey, updater authority.Signer, days uint32) error {
	return v.update(tx, key, updater, authority.RoleUpdateAuthority, "hold_period_days", func(st *Settings) { st.HoldPeriodDays = days })
}

func (v *Vault) UpdateHoldRoyalty(tx host.Tx, key solana.PublicKey, updater authority.Signer, pct uint8) error {
	return v.update(tx, key, updater, authority.RoleUpdateAuthority, "hold_royalty", func(st *Settings) { st.HoldRoyalty = pct })
}

func (v *Vault) UpdateRoyalty(tx host.Tx, key solana.PublicKey, updater authority.Signer, pct uint8) error {
	return v.update(tx, key, updater, authority.RoleUpdateAuthority, "royalty", func(st *Settings) { st.Royalty = pct })
}

func (v *Vault) UpdateAPR(tx host.Tx, key solana.PublicKey, updater authority.Signer, start, step, floor uint8) error {
	return v.update(tx, key, updater, authority.RoleUpdateAuthority, "apr", func(st *Settings) {
		st.APRStart, st.APRStep, st.APRFloor = start, step, floor
	})
}
