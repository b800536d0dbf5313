package gateway

import (
	"errors"
	"fmt"

	"github.com/radieske/multiplier-bet-platform/internal/round-engine/ledger"
)

// Kind é o motivo específico da rejeição, visível ao jogador
type Kind string

const (
	KindAlreadyBet          Kind = "AlreadyBet"
	KindInsufficientBalance Kind = "InsufficientBalance"
	KindRoundClosed         Kind = "RoundClosed"
	KindLimitExceeded       Kind = "LimitExceeded"
	KindAmountOutOfRange    Kind = "AmountOutOfRange"
	KindAlreadySettled      Kind = "AlreadySettled"
	KindRoundNotFound       Kind = "RoundNotFound"
	KindNoBet               Kind = "NoBet"
	KindUnavailable         Kind = "Unavailable"
)

// Class diz ao chamador o que fazer: corrigir o pedido, parar (já agiu) ou tentar de novo
type Class string

const (
	ClassValidation Class = "ValidationError"
	ClassConflict   Class = "ConflictError"
	ClassResource   Class = "ResourceError"
)

type Error struct {
	Kind  Kind
	Class Class
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable só vale para falhas de recurso; conflitos e validações não mudam com retry
func (e *Error) Retryable() bool { return e.Class == ClassResource }

func classOf(k Kind) Class {
	switch k {
	case KindAlreadyBet, KindAlreadySettled:
		return ClassConflict
	case KindUnavailable:
		return ClassResource
	default:
		return ClassValidation
	}
}

func newError(k Kind, err error) *Error {
	return &Error{Kind: k, Class: classOf(k), Err: err}
}

// KindOf extrai o Kind de um erro do gateway; vazio se não for um
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// fromLedger traduz os sentinelas do ledger; qualquer outro erro é falha de recurso
func fromLedger(err error) *Error {
	switch {
	case errors.Is(err, ledger.ErrAlreadyBet):
		return newError(KindAlreadyBet, err)
	case errors.Is(err, ledger.ErrAlreadySettled):
		return newError(KindAlreadySettled, err)
	case errors.Is(err, ledger.ErrRoundClosed), errors.Is(err, ledger.ErrPhaseConflict):
		return newError(KindRoundClosed, err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return newError(KindInsufficientBalance, err)
	case errors.Is(err, ledger.ErrLimitExceeded):
		return newError(KindLimitExceeded, err)
	case errors.Is(err, ledger.ErrAmountOutOfRange):
		return newError(KindAmountOutOfRange, err)
	case errors.Is(err, ledger.ErrRoundNotFound):
		return newError(KindRoundNotFound, err)
	case errors.Is(err, ledger.ErrNoBet):
		return newError(KindNoBet, err)
	default:
		return newError(KindUnavailable, err)
	}
}
