package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Game agrupa os coletores do motor de rodadas e do gateway.
// Um *Game nil é válido e descarta todas as observações (útil em testes).
type Game struct {
	RoundsStarted   prometheus.Counter
	RoundsVoided    prometheus.Counter
	Phase           prometheus.Gauge
	TicksEmitted    prometheus.Counter
	BetsPlaced      prometheus.Counter
	BetsRejected    *prometheus.CounterVec
	CashOuts        prometheus.Counter
	AutoSettlements prometheus.Counter
	SettleFailures  prometheus.Counter
	PayoutCents     prometheus.Counter
	StakeCents      prometheus.Counter
	PublishFailures *prometheus.CounterVec
	PublishDropped  *prometheus.CounterVec
	WSConnections   prometheus.Gauge
	AuditRounds     prometheus.Counter
	AuditMismatches *prometheus.CounterVec
}

// NewGame cria e registra os coletores no registerer informado
func NewGame(reg prometheus.Registerer) *Game {
	g := &Game{
		RoundsStarted:   prometheus.NewCounter(prometheus.CounterOpts{Name: "round_engine_rounds_started_total", Help: "rodadas criadas"}),
		RoundsVoided:    prometheus.NewCounter(prometheus.CounterOpts{Name: "round_engine_rounds_voided_total", Help: "rodadas anuladas com devolução das apostas"}),
		Phase:           prometheus.NewGauge(prometheus.GaugeOpts{Name: "round_engine_phase", Help: "fase atual (0=BETTING,1=RUNNING,2=ENDED)"}),
		TicksEmitted:    prometheus.NewCounter(prometheus.CounterOpts{Name: "round_engine_ticks_total", Help: "ticks de multiplicador emitidos"}),
		BetsPlaced:      prometheus.NewCounter(prometheus.CounterOpts{Name: "round_gateway_bets_placed_total", Help: "apostas aceitas"}),
		BetsRejected:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "round_gateway_rejections_total", Help: "ações rejeitadas por motivo"}, []string{"action", "kind"}),
		CashOuts:        prometheus.NewCounter(prometheus.CounterOpts{Name: "round_gateway_cashouts_total", Help: "cash-outs aceitos"}),
		AutoSettlements: prometheus.NewCounter(prometheus.CounterOpts{Name: "round_engine_auto_settlements_total", Help: "apostas liquidadas no fim da rodada"}),
		SettleFailures:  prometheus.NewCounter(prometheus.CounterOpts{Name: "round_engine_settle_failures_total", Help: "liquidações que falharam e aguardam reconciliação"}),
		PayoutCents:     prometheus.NewCounter(prometheus.CounterOpts{Name: "round_payout_cents_total", Help: "total pago aos jogadores em centavos"}),
		StakeCents:      prometheus.NewCounter(prometheus.CounterOpts{Name: "round_stake_cents_total", Help: "total apostado em centavos"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "round_publish_failures_total", Help: "falhas de publicação por sink"}, []string{"sink"}),
		PublishDropped:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "round_publish_dropped_total", Help: "eventos descartados com a fila do sink cheia"}, []string{"sink"}),
		WSConnections:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "round_ws_connections", Help: "clientes WebSocket conectados"}),
		AuditRounds:     prometheus.NewCounter(prometheus.CounterOpts{Name: "round_audit_rounds_total", Help: "rodadas reproduzidas pela auditoria"}),
		AuditMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "round_audit_mismatches_total", Help: "divergências de auditoria"}, []string{"check"}),
	}
	reg.MustRegister(
		g.RoundsStarted, g.RoundsVoided, g.Phase, g.TicksEmitted, g.BetsPlaced, g.BetsRejected,
		g.CashOuts, g.AutoSettlements, g.SettleFailures, g.PayoutCents, g.StakeCents,
		g.PublishFailures, g.PublishDropped, g.WSConnections, g.AuditRounds, g.AuditMismatches,
	)
	return g
}

func (g *Game) RoundStarted() {
	if g != nil {
		g.RoundsStarted.Inc()
	}
}

func (g *Game) RoundVoided() {
	if g != nil {
		g.RoundsVoided.Inc()
	}
}

func (g *Game) SetPhase(ordinal int) {
	if g != nil {
		g.Phase.Set(float64(ordinal))
	}
}

func (g *Game) Tick() {
	if g != nil {
		g.TicksEmitted.Inc()
	}
}

func (g *Game) BetPlaced(stakeCents int64) {
	if g != nil {
		g.BetsPlaced.Inc()
		g.StakeCents.Add(float64(stakeCents))
	}
}

func (g *Game) Rejected(action, kind string) {
	if g != nil {
		g.BetsRejected.WithLabelValues(action, kind).Inc()
	}
}

func (g *Game) CashedOut(payoutCents int64) {
	if g != nil {
		g.CashOuts.Inc()
		g.PayoutCents.Add(float64(payoutCents))
	}
}

func (g *Game) AutoSettled(payoutCents int64) {
	if g != nil {
		g.AutoSettlements.Inc()
		g.PayoutCents.Add(float64(payoutCents))
	}
}

func (g *Game) SettleFailed() {
	if g != nil {
		g.SettleFailures.Inc()
	}
}

func (g *Game) PublishFailed(sink string) {
	if g != nil {
		g.PublishFailures.WithLabelValues(sink).Inc()
	}
}

func (g *Game) PublishDrop(sink string) {
	if g != nil {
		g.PublishDropped.WithLabelValues(sink).Inc()
	}
}

func (g *Game) WSConnected(delta float64) {
	if g != nil {
		g.WSConnections.Add(delta)
	}
}

func (g *Game) Audited() {
	if g != nil {
		g.AuditRounds.Inc()
	}
}

func (g *Game) AuditMismatch(check string) {
	if g != nil {
		g.AuditMismatches.WithLabelValues(check).Inc()
	}
}
