package host

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
)

// Load reads the account at key and decodes it, checking that it has the expected kind.
func Load[T any](tx Tx, key solana.PublicKey, kind string) (*T, error) {
	rec, err := tx.Get(key)
	if err != nil {
		return nil, err
	}
	if rec.Kind != kind {
		return nil, faults.ErrAccountKind.WithDetail("%s is %q, want %q", key, rec.Kind, kind)
	}
	var v T
	if err := json.Unmarshal(rec.Data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s account %s: %w", kind, key, err)
	}
	return &v, nil
}

// Store encodes v and writes it at key on behalf of owner.
func Store[T any](tx Tx, key solana.PublicKey, kind string, owner solana.PublicKey, v *T) error {
	rec, err := encode(kind, owner, v)
	if err != nil {
		return err
	}
	return tx.Put(key, rec)
}

// Init creates the account at key. It fails with faults.ErrAccountExists if key is taken.
func Init[T any](tx Tx, key solana.PublicKey, kind string, owner solana.PublicKey, v *T) error {
	rec, err := encode(kind, owner, v)
	if err != nil {
		return err
	}
	return tx.Create(key, rec)
}

// Exists reports whether an account is stored at key.
func Exists(tx Tx, key solana.PublicKey) (bool, error) {
	_, err := tx.Get(key)
	if errors.Is(err, faults.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func encode[T any](kind string, owner solana.PublicKey, v *T) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode %s account: %w", kind, err)
	}
	return Record{Kind: kind, Owner: owner, Data: data}, nil
}

// CheckOwner rejects a write to existing when it belongs to another program.
func CheckOwner(key solana.PublicKey, existing, next Record) error {
	if !existing.Owner.Equals(next.Owner) {
		return faults.ErrAccountOwner.WithDetail("%s is owned by %s", key, existing.Owner)
	}
	return nil
}
