package events

import "github.com/shopspring/decimal"

// CashOutMade é emitido após um cash-out aceito; nunca carrega saldo
type CashOutMade struct {
	RoundID     string          `json:"roundId"`
	BetID       string          `json:"betId"`
	CashOutID   string          `json:"cashOutId"`
	UserID      string          `json:"userId"`
	Multiplier  decimal.Decimal `json:"multiplier"`
	AmountCents int64           `json:"amountCents"`
}

func (CashOutMade) EventType() Type { return TypeCashOutMade }
func (e CashOutMade) Round() string { return e.RoundID }
