package topics

const (
	// Rounds (log de auditoria, particionado por roundId)
	RoundEvents    = "round_events"
	RoundEventsDLQ = "round_events_dlq"

	// Bets
	BetEvents = "bet_events"
)

// GameChannel é o canal Redis Pub/Sub de broadcast em tempo real de um tipo de jogo
func GameChannel(gameType string) string { return "game:" + gameType + ":broadcast" }

// SnapshotKey guarda o estado autoritativo corrente da rodada
func SnapshotKey(gameType string) string { return "round:" + gameType + ":current" }

// LeaseKey é a chave de posse do loop autoritativo (single writer)
func LeaseKey(gameType string) string { return "round:" + gameType + ":leader" }
