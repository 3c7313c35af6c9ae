// Package token is the fungible token primitive the host provides: mints, token accounts and
// transfers that check token identity and source ownership.
package token

import (
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
	"github.com/malbeclabs/gameledger/engine/pkg/calc"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
)

const (
	KindMint    = "token.mint"
	KindAccount = "token.account"

	moduleName = "token"
)

var program = authority.MustRegister(moduleName)

// ProgramID owns every mint and token account record.
var ProgramID = program.ID()

type Mint struct {
	Authority solana.PublicKey `json:"authority"`
	Decimals  uint8            `json:"decimals"`
	Supply    uint64           `json:"supply"`
}

type Account struct {
	Mint   solana.PublicKey `json:"mint"`
	Owner  solana.PublicKey `json:"owner"`
	Amount uint64           `json:"amount"`
}

func CreateMint(tx host.Tx, key, mintAuthority solana.PublicKey, decimals uint8) error {
	return host.Init(tx, key, KindMint, ProgramID, &Mint{Authority: mintAuthority, Decimals: decimals})
}

func CreateAccount(tx host.Tx, key, mint, owner solana.PublicKey) error {
	if _, err := GetMint(tx, mint); err != nil {
		return err
	}
	return host.Init(tx, key, KindAccount, ProgramID, &Account{Mint: mint, Owner: owner})
}

func GetMint(tx host.Tx, key solana.PublicKey) (*Mint, error) {
	return host.Load[Mint](tx, key, KindMint)
}

func GetAccount(tx host.Tx, key solana.PublicKey) (*Account, error) {
	return host.Load[Account](tx, key, KindAccount)
}

// RequireAccount loads key and checks it holds mint and belongs to owner.
func RequireAccount(tx host.Tx, key, mint, owner solana.PublicKey) (*Account, error) {
	acct, err := GetAccount(tx, key)
	if err != nil {
		return nil, err
	}
	if !acct.Mint.Equals(mint) {
		return nil, faults.ErrMintMismatch.WithDetail("%s holds %s, want %s", key, acct.Mint, mint)
	}
	if !acct.Owner.Equals(owner) {
		return nil, faults.ErrOwnerMismatch.WithDetail("%s is owned by %s, want %s", key, acct.Owner, owner)
	}
	return acct, nil
}

func Balance(tx host.Tx, key solana.PublicKey) (uint64, error) {
	acct, err := GetAccount(tx, key)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

// MintTo creates amount new tokens in account to. The signer must be the mint authority.
func MintTo(tx host.Tx, mintKey, to solana.PublicKey, signer authority.Signer, amount uint64) error {
	mint, err := GetMint(tx, mintKey)
	if err != nil {
		return err
	}
	if err := authority.Require(tx, signer, mint.Authority, faults.ErrMintAuthority); err != nil {
		return err
	}
	dst, err := GetAccount(tx, to)
	if err != nil {
		return err
	}
	if !dst.Mint.Equals(mintKey) {
		return faults.ErrMintMismatch
	}
	if mint.Supply, err = calc.CheckedAdd(mint.Supply, amount); err != nil {
		return err
	}
	if dst.Amount, err = calc.CheckedAdd(dst.Amount, amount); err != nil {
		return err
	}
	if err := host.Store(tx, mintKey, KindMint, ProgramID, mint); err != nil {
		return err
	}
	if err := host.Store(tx, to, KindAccount, ProgramID, dst); err != nil {
		return err
	}
	tx.Emit(moduleName, "minted", map[string]any{"mint": mintKey.String(), "to": to.String(), "amount": amount})
	return nil
}

// Transfer moves amount from one account to another of the same mint. The signer must own the
// source account.
func Transfer(tx host.Tx, from, to solana.PublicKey, signer authority.Signer, amount uint64) error {
	src, err := GetAccount(tx, from)
	if err != nil {
		return err
	}
	if err := authority.Require(tx, signer, src.Owner, faults.ErrOwnerMismatch); err != nil {
		return err
	}
	dst, err := GetAccount(tx, to)
	if err != nil {
		return err
	}
	if !src.Mint.Equals(dst.Mint) {
		return faults.ErrMintMismatch
	}
	if amount == 0 || from.Equals(to) {
		return nil
	}
	if src.Amount < amount {
		return faults.ErrInsufficientFunds.WithDetail("%s has %d, need %d", from, src.Amount, amount)
	}
	src.Amount -= amount
	if dst.Amount, err = calc.CheckedAdd(dst.Amount, amount); err != nil {
		return err
	}
	if err := host.Store(tx, from, KindAccount, ProgramID, src); err != nil {
		return err
	}
	if err := host.Store(tx, to, KindAccount, ProgramID, dst); err != nil {
		return err
	}
	tx.Emit(moduleName, "transferred", map[string]any{"from": from.String(), "to": to.String(), "amount": amount})
	return nil
}

// SetOwner hands an account to a new owner, typically a module's derived authority.
func SetOwner(tx host.Tx, key solana.PublicKey, current authority.Signer, owner solana.PublicKey) error {
	acct, err := GetAccount(tx, key)
	if err != nil {
		return err
	}
	if err := authority.Require(tx, current, acct.Owner, faults.ErrOwnerMismatch); err != nil {
		return err
	}
	acct.Owner = owner
	return host.Store(tx, key, KindAccount, ProgramID, acct)
}

// SetMintAuthority hands minting rights to a new authority.
func SetMintAuthority(tx host.Tx, key solana.PublicKey, current authority.Signer, next solana.PublicKey) error {
	mint, err := GetMint(tx, key)
	if err != nil {
		return err
	}
	if err := authority.Require(tx, current, mint.Authority, faults.ErrMintAuthority); err != nil {
		return err
	}
	mint.Authority = next
	return host.Store(tx, key, KindMint, ProgramID, mint)
}
