// Package curve gera a sequência de multiplicadores de uma rodada.
//
// O valor terminal segue T = Min + (Max-Min)·U^k com U uniforme em [0,1) e
// k = 1/μ - 1, onde μ = ((1-margem)·Fair - Min)/(Max-Min). Como E[U^k] = 1/(k+1),
// E[T] = (1-margem)·Fair exatamente: a vantagem da casa é realizada na média,
// nunca por rodada. Margens maiores aumentam k e deslocam a massa para
// multiplicadores menores.
//
// O caminho até T é uma ponte browniana partindo de (1-margem)·Fair, de modo que
// toda amostra revelada (e não só a terminal) carrega a margem em expectativa.
package curve

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	mrand "math/rand/v2"

	"github.com/shopspring/decimal"

	"github.com/radieske/multiplier-bet-platform/internal/shared/money"
)

var ErrInvalidParams = errors.New("invalid curve params")

// Seed é a semente de 32 bytes de uma rodada
type Seed [32]byte

// NewSeed sorteia uma seed com crypto/rand
func NewSeed() (Seed, error) {
	var s Seed
	if _, err := rand.Read(s[:]); err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	return s, nil
}

// ParseSeed decodifica a seed hexadecimal revelada/persistida
func ParseSeed(h string) (Seed, error) {
	var s Seed
	b, err := hex.DecodeString(h)
	if err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	if len(b) != len(s) {
		return Seed{}, fmt.Errorf("seed must have %d bytes, got %d", len(s), len(b))
	}
	copy(s[:], b)
	return s, nil
}

func (s Seed) Hex() string { return hex.EncodeToString(s[:]) }

// Hash é o compromisso publicado antes da revelação
func (s Seed) Hash() string {
	h := sha256.Sum256(s[:])
	return hex.EncodeToString(h[:])
}

// Params descreve a faixa de multiplicadores e a margem da rodada
type Params struct {
	Min          float64
	Max          float64
	Fair         float64
	ProfitMargin float64
	Volatility   float64
	Samples      int // amostras incluindo a inicial (ticks + 1)
}

// TargetMean é o valor esperado do multiplicador terminal
func (p Params) TargetMean() float64 {
	return (1 - p.ProfitMargin) * p.Fair
}

func (p Params) Validate() error {
	switch {
	case p.Samples < 2:
		return fmt.Errorf("%w: need at least 2 samples", ErrInvalidParams)
	case p.Min < 0 || p.Min >= p.Max:
		return fmt.Errorf("%w: empty range [%v,%v]", ErrInvalidParams, p.Min, p.Max)
	case p.ProfitMargin < 0 || p.ProfitMargin >= 1:
		return fmt.Errorf("%w: margin %v", ErrInvalidParams, p.ProfitMargin)
	case p.Volatility < 0:
		return fmt.Errorf("%w: negative volatility", ErrInvalidParams)
	}
	if m := p.TargetMean(); m <= p.Min || m >= p.Max {
		return fmt.Errorf("%w: target mean %v outside (%v,%v)", ErrInvalidParams, m, p.Min, p.Max)
	}
	return nil
}

// exponent resolve k tal que E[Min + (Max-Min)·U^k] = TargetMean
func (p Params) exponent() float64 {
	mu := (p.TargetMean() - p.Min) / (p.Max - p.Min)
	return 1/mu - 1
}

// Curve é imutável depois de gerada
type Curve struct {
	samples []decimal.Decimal
}

// Generate é uma função pura de (seed, params)
func Generate(seed Seed, p Params) (Curve, error) {
	if err := p.Validate(); err != nil {
		return Curve{}, err
	}

	rng := mrand.New(mrand.NewChaCha8(seed))

	terminal := p.Min + (p.Max-p.Min)*math.Pow(rng.Float64(), p.exponent())
	start := p.TargetMean()
	steps := p.Samples - 1

	walk := make([]float64, p.Samples)
	for i := 1; i <= steps; i++ {
		walk[i] = walk[i-1] + rng.NormFloat64()*p.Volatility
	}

	out := make([]decimal.Decimal, p.Samples)
	for i := 0; i < steps; i++ {
		frac := float64(i) / float64(steps)
		v := start + (terminal-start)*frac + walk[i] - frac*walk[steps]
		out[i] = money.Multiplier(clamp(v, p.Min, p.Max))
	}
	out[steps] = money.Multiplier(terminal)

	return Curve{samples: out}, nil
}

// FromSamples reconstrói uma curva já conhecida (ex: snapshot persistido)
func FromSamples(samples []decimal.Decimal) Curve {
	cp := make([]decimal.Decimal, len(samples))
	copy(cp, samples)
	return Curve{samples: cp}
}

func (c Curve) Len() int { return len(c.samples) }

// At devolve a amostra i, limitando o índice à faixa válida
func (c Curve) At(i int) decimal.Decimal {
	if len(c.samples) == 0 {
		return decimal.Zero
	}
	if i < 0 {
		i = 0
	}
	if i >= len(c.samples) {
		i = len(c.samples) - 1
	}
	return c.samples[i]
}

func (c Curve) Final() decimal.Decimal { return c.At(len(c.samples) - 1) }

// Samples devolve uma cópia da sequência
func (c Curve) Samples() []decimal.Decimal {
	return FromSamples(c.samples).samples
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
