// Package faults classifies engine errors. Every rejected entry point returns an *Error whose
// Kind tells callers (and the HTTP layer) how to react; the host aborts the transaction.
package faults

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindAccessDenied
	KindCapabilityDenied
	KindInvalidParameter
	KindOverflow
	KindStateConflict
	KindNotYetDue
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAccessDenied:
		return "access_denied"
	case KindCapabilityDenied:
		return "capability_denied"
	case KindInvalidParameter:
		return "invalid_parameter"
	case KindOverflow:
		return "overflow"
	case KindStateConflict:
		return "state_conflict"
	case KindNotYetDue:
		return "not_yet_due"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a named engine error. Two errors match under errors.Is when their codes are equal,
// so wrapped sentinels and errors produced by WithDetail still compare equal.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of e with extra context appended to the message.
func (e *Error) WithDetail(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message + ": " + fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Shared errors raised by the host, the token primitive and arithmetic helpers.
var (
	ErrOverflow           = New(KindOverflow, "Overflow", "arithmetic overflow")
	ErrAccountNotFound    = New(KindNotFound, "AccountNotFound", "account does not exist")
	ErrAccountExists      = New(KindStateConflict, "AccountAlreadyExists", "account already exists")
	ErrAccountKind        = New(KindInvalidParameter, "AccountKindMismatch", "account has unexpected kind")
	ErrAccountOwner       = New(KindAccessDenied, "AccountOwnerMismatch", "account is owned by another program")
	ErrMissingSignature   = New(KindAccessDenied, "MissingRequiredSignature", "required signer did not sign")
	ErrInvalidSeeds       = New(KindAccessDenied, "InvalidSeeds", "derived authority does not match its seeds")
	ErrInvalidAdmin       = New(KindAccessDenied, "InvalidAdmin", "signer is not the admin")
	ErrInvalidUpdateAuth  = New(KindAccessDenied, "InvalidUpdateAuthority", "signer is not the update authority")
	ErrNotInAllowList     = New(KindCapabilityDenied, "NotInAllowList", "caller is not in the allow list")
	ErrAllowListTooLarge  = New(KindInvalidParameter, "AllowListTooLarge", "allow list exceeds its maximum size")
	ErrMintMismatch       = New(KindInvalidParameter, "MintMismatch", "token accounts belong to different mints")
	ErrOwnerMismatch      = New(KindAccessDenied, "OwnerMismatch", "token account is not owned by the signer")
	ErrInsufficientFunds  = New(KindOverflow, "InsufficientFunds", "insufficient token balance")
	ErrMintAuthority      = New(KindAccessDenied, "InvalidMintAuthority", "signer is not the mint authority")
	ErrInvalidPercent     = New(KindInvalidParameter, "InvalidPercent", "percentage must be between 0 and 100")
	ErrInvalidRewardTable = New(KindInvalidParameter, "InvalidRewardTable", "reward table is invalid")
)
