// Package bterrors implements a hierarchical, wire-serializable error type:
// each error carries a stable machine Code and a human Message, grouped
// under one of four Kinds, so a client library can reconstruct the right
// subclass purely from the code that crossed the wire.
package bterrors

import (
	"errors"
	"fmt"
)

// Kind groups related error Codes into one of four top-level classes.
type Kind string

const (
	KindBadParameter  Kind = "BadParameter"
	KindTradeRejected Kind = "TradeRejected"
	KindAccountError  Kind = "AccountError"
	KindInfra         Kind = "Infra"
)

// Code is a stable, wire-safe machine-readable error code.
type Code string

const (
	LotSize       Code = "LOT_SIZE"
	TimeRewind    Code = "TIME_REWIND"
	UnknownSymbol Code = "UNKNOWN_SYMBOL"
	BadDatetime   Code = "BAD_DATETIME"

	CashShortage    Code = "CASH_SHORTAGE"
	PositionShort   Code = "POSITION_SHORT"
	NoMatch         Code = "NO_MATCH"
	VolumeNotEnough Code = "VOLUME_NOT_ENOUGH"
	PriceLimit      Code = "PRICE_LIMIT"
	Suspended       Code = "SUSPENDED"

	AccountExists Code = "ACCOUNT_EXISTS"
	NotFound      Code = "NOT_FOUND"
	Unauthorized  Code = "UNAUTHORIZED"

	FeedTimeout     Code = "FEED_TIMEOUT"
	FeedDataMissing Code = "FEED_DATA_MISSING"
	Persistence     Code = "PERSISTENCE"
)

// codeKinds maps every known Code to its owning Kind, used by Reconstruct.
var codeKinds = map[Code]Kind{
	LotSize:       KindBadParameter,
	TimeRewind:    KindBadParameter,
	UnknownSymbol: KindBadParameter,
	BadDatetime:   KindBadParameter,

	CashShortage:    KindTradeRejected,
	PositionShort:   KindTradeRejected,
	NoMatch:         KindTradeRejected,
	VolumeNotEnough: KindTradeRejected,
	PriceLimit:      KindTradeRejected,
	Suspended:       KindTradeRejected,

	AccountExists: KindAccountError,
	NotFound:      KindAccountError,
	Unauthorized:  KindAccountError,

	FeedTimeout:     KindInfra,
	FeedDataMissing: KindInfra,
	Persistence:     KindInfra,
}

// Error is the concrete error type carried across the engine boundary and
// the wire. It is never retried internally.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Message)
}

func newErr(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// BadParameter builds a malformed-request error.
func BadParameter(code Code, message string) *Error { return newErr(KindBadParameter, code, message) }

// TradeRejected builds an order-rejection error.
func TradeRejected(code Code, message string) *Error {
	return newErr(KindTradeRejected, code, message)
}

// AccountErr builds an account-lifecycle error.
func AccountErr(code Code, message string) *Error { return newErr(KindAccountError, code, message) }

// InfraErr builds an infrastructure-failure error.
func InfraErr(code Code, message string) *Error { return newErr(KindInfra, code, message) }

// As reports whether err is (or wraps) a *bterrors.Error.
func As(err error) (*Error, bool) {
	var be *Error
	ok := errors.As(err, &be)
	return be, ok
}

// Reconstruct rebuilds an *Error from a wire code, the way a client library
// would: the Kind is derived from the Code via the stable codeKinds table,
// never transmitted redundantly.
func Reconstruct(code, message string) error {
	c := Code(code)
	kind, ok := codeKinds[c]
	if !ok {
		kind = KindInfra
	}
	return newErr(kind, c, message)
}
