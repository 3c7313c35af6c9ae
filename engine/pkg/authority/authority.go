// Package authority implements the capability model. A module signs with program-derived
// addresses that have no private key: the address is computed from the module's program id
// and a list of seeds, and only the package holding the registered *Program can produce a
// Signer for it. Other modules are granted use of such an address by listing it in an
// AllowList.
package authority

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
)

// Signer is an identity presented to an entry point.
type Signer interface {
	Key() solana.PublicKey
	Verify(tx host.Tx) error
}

// ProgramID returns the deterministic id of the named engine program.
func ProgramID(name string) solana.PublicKey {
	sum := sha256.Sum256([]byte("gameledger/program/" + name))
	return solana.PublicKeyFromBytes(sum[:])
}

var (
	registryMu sync.Mutex
	registry   = map[solana.PublicKey]*Program{}
)

// Program is the signing capability of one engine module.
type Program struct {
	name string
	id   solana.PublicKey
}

// Register claims the named program. Each name can be registered once per process.
func Register(name string) (*Program, error) {
	id := ProgramID(name)

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[id]; ok {
		return nil, fmt.Errorf("program %q already registered", name)
	}
	p := &Program{name: name, id: id}
	registry[id] = p
	return p, nil
}

func MustRegister(name string) *Program {
	p, err := Register(name)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Program) ID() solana.PublicKey { return p.id }
func (p *Program) Name() string         { return p.name }

// Find derives the canonical address and bump for seeds.
func (p *Program) Find(seeds ...[]byte) (*Derived, error) {
	key, bump, err := solana.FindProgramAddress(seeds, p.id)
	if err != nil {
		return nil, fmt.Errorf("failed to derive %s address: %w", p.name, err)
	}
	return &Derived{program: p, seeds: seeds, bump: bump, key: key}, nil
}

// Signer rebuilds a derived signer from a stored bump.
func (p *Program) Signer(bump uint8, seeds ...[]byte) (*Derived, error) {
	key, err := solana.CreateProgramAddress(withBump(seeds, bump), p.id)
	if err != nil {
		return nil, faults.ErrInvalidSeeds.WithDetail("%s: %v", p.name, err)
	}
	return &Derived{program: p, seeds: seeds, bump: bump, key: key}, nil
}

// FindAddress computes a derived address without the signing capability.
func FindAddress(programID solana.PublicKey, seeds ...[]byte) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(seeds, programID)
}

// Derived is a signer for a program-derived address.
type Derived struct {
	program *Program
	seeds   [][]byte
	bump    uint8
	key     solana.PublicKey
}

func (d *Derived) Key() solana.PublicKey { return d.key }
func (d *Derived) Bump() uint8           { return d.bump }

// Verify re-derives the address from its seeds and checks the program is the registered one.
func (d *Derived) Verify(host.Tx) error {
	if d == nil || d.program == nil {
		return faults.ErrInvalidSeeds.WithDetail("no program")
	}
	registryMu.Lock()
	registered := registry[d.program.id]
	registryMu.Unlock()
	if registered != d.program {
		return faults.ErrInvalidSeeds.WithDetail("program %s is not registered", d.program.id)
	}
	key, err := solana.CreateProgramAddress(withBump(d.seeds, d.bump), d.program.id)
	if err != nil || !key.Equals(d.key) {
		return faults.ErrInvalidSeeds.WithDetail("%s", d.key)
	}
	return nil
}

// User is a signer backed by a key that must have signed the outer transaction.
type User solana.PublicKey

func (u User) Key() solana.PublicKey { return solana.PublicKey(u) }

func (u User) Verify(tx host.Tx) error {
	if !tx.IsSigner(u.Key()) {
		return faults.ErrMissingSignature.WithDetail("%s", u.Key())
	}
	return nil
}

// Require checks that s is the expected identity and that it verifies.
func Require(tx host.Tx, s Signer, want solana.PublicKey, denied *faults.Error) error {
	if s == nil || !s.Key().Equals(want) {
		return denied
	}
	return s.Verify(tx)
}

// AllowList is a bounded list of keys granted a capability.
type AllowList []solana.PublicKey

func (l AllowList) Contains(key solana.PublicKey) bool {
	return slices.Contains(l, key)
}

func (l AllowList) Validate(max int) error {
	if len(l) > max {
		return faults.ErrAllowListTooLarge.WithDetail("%d entries, max %d", len(l), max)
	}
	return nil
}

// Authorize checks that s is listed and verifies it; unlisted callers get denied.
func (l AllowList) Authorize(tx host.Tx, s Signer, denied *faults.Error) error {
	if s == nil || !l.Contains(s.Key()) {
		return denied
	}
	return s.Verify(tx)
}

// Seed helpers.
func Label(s string) []byte { return []byte(s) }

func KeySeed(k solana.PublicKey) []byte { return k.Bytes() }

func U64Seed(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

func withBump(seeds [][]byte, bump uint8) [][]byte {
	out := make([][]byte, 0, len(seeds)+1)
	out = append(out, seeds...)
	return append(out, []byte{bump})
}
