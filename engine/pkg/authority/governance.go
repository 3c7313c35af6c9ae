package authority

import (
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
)

type Role int

const (
	// RoleAdmin changes identities: the admin itself and the update authority.
	RoleAdmin Role = iota
	// RoleUpdateAuthority changes parameters.
	RoleUpdateAuthority
)

// Governance is embedded in every module's settings.
type Governance struct {
	Admin           solana.PublicKey `json:"admin"`
	UpdateAuthority solana.PublicKey `json:"update_authority"`
}

// Require checks that s holds role r.
func (g Governance) Require(tx host.Tx, s Signer, r Role) error {
	if r == RoleAdmin {
		return Require(tx, s, g.Admin, faults.ErrInvalidAdmin)
	}
	return Require(tx, s, g.UpdateAuthority, faults.ErrInvalidUpdateAuth)
}
