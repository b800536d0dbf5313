package events

// BetPlaced é visível a todos os espectadores; nunca carrega saldo
type BetPlaced struct {
	RoundID     string `json:"roundId"`
	BetID       string `json:"betId"`
	UserID      string `json:"userId"`
	AmountCents int64  `json:"amountCents"`
}

func (BetPlaced) EventType() Type { return TypeBetPlaced }
func (e BetPlaced) Round() string { return e.RoundID }
