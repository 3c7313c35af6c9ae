package ledger

import (
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
)

func (l *Ledger) update(tx host.Tx, key solana.PublicKey, signer authority.Signer, role authority.Role, field string, mutate func(*Settings)) error {
	st, err := l.Settings(tx, key)
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
	l.log.Info("ledger: settings updated", "settings", key, "field", field)
	return nil
}

func (l *Ledger) UpdateAdmin(tx host.Tx, key solana.PublicKey, admin authority.Signer, next solana.PublicKey) error {
	return l.update(tx, key, admin, authority.RoleAdmin, "admin", func(st *Settings) { st.Admin = next })
}

func (l *Ledger) SetUpdateAuthority(tx host.Tx, key solana.PublicKey, admin authority.Signer, next solana.PublicKey) error {
	return l.update(tx, key, admin, authority.RoleAdmin, "update_authority", func(st *Settings) { st.UpdateAuthority = next })
}

func (l *Ledger) UpdateBurnPeriod(tx host.Tx, key solana.PublicKey, updater authority.Signer, period int64) error {
	return l.update(tx, key, updater, authority.RoleUpdateAuthority, "burn_period", func(st *Settings) { st.BurnPeriod = period })
}

func (l *Ledger) UpdateMinters(tx host.Tx, key solana.PublicKey, updater authority.Signer, minters authority.AllowList) error {
	return l.update(tx, key, updater, authority.RoleUpdateAuthority, "minters", func(st *Settings) { st.Minters = minters })
}

func (l *Ledger) UpdateBurners(tx host.Tx, key solana.PublicKey, updater authority.Signer, burners authority.AllowList) error {
	return l.update(tx, key, updater, authority.RoleUpdateAuthority, "burners", func(st *Settings) { st.Burners = burners })
}
