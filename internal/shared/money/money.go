// Package money concentra a aritmética de multiplicadores e valores monetários.
// Valores em centavos (int64); multiplicadores em decimal com 2 casas,
// sempre arredondados half-to-even antes de qualquer multiplicação monetária.
package money

import (
	"github.com/shopspring/decimal"
)

// Places é a precisão fixa de multiplicadores persistidos/transmitidos
const Places = 2

// Multiplier converte um float da geração interna para a precisão fixa
func Multiplier(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).RoundBank(Places)
}

// WinCents calcula amountCents × multiplier, arredondado (half-to-even) ao centavo
func WinCents(amountCents int64, multiplier decimal.Decimal) int64 {
	m := multiplier.RoundBank(Places)
	return decimal.NewFromInt(amountCents).Mul(m).RoundBank(0).IntPart()
}

// FromCents converte centavos para reais
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -Places)
}

// ToCents converte reais para centavos (half-to-even)
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(Places).RoundBank(0).IntPart()
}

// FormatCents formata centavos como "150.00"
func FormatCents(cents int64) string {
	return FromCents(cents).StringFixed(Places)
}
