package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/radieske/multiplier-bet-platform/internal/round-audit/consumer"
	"github.com/radieske/multiplier-bet-platform/internal/round-audit/verifier"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/ledger"
	"github.com/radieske/multiplier-bet-platform/internal/shared/config"
	"github.com/radieske/multiplier-bet-platform/internal/shared/db"
	"github.com/radieske/multiplier-bet-platform/internal/shared/kafka"
	"github.com/radieske/multiplier-bet-platform/internal/shared/logger"
	"github.com/radieske/multiplier-bet-platform/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Postgres é opcional: sem ele a auditoria confere só seed e replay
	var (
		rounds verifier.RoundReader
		pl     *ledger.Postgres
	)
	if cfg.Ledger != "memory" {
		pg, err := db.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			log.Fatal("postgres connect", zap.Error(err))
		}
		defer pg.Close()
		pl = ledger.NewPostgres(pg)
		rounds = pl
	}

	// Configura o consumer Kafka (consumer group round-audit)
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicRoundEvents, cfg.AuditConsumerName)
	defer reader.Close()
	dlq := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRoundDLQ)
	defer dlq.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	gm := metrics.NewGame(reg)
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "round_audit_messages_consumed_total", Help: "mensagens consumidas"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "round_audit_errors_total", Help: "erros por estágio"}, []string{"stage"})
	reg.MustRegister(consumed, errorsBy)

	proc := &consumer.Processor{
		Log:        log,
		Reader:     reader,
		DLQ:        dlq,
		Verifier:   verifier.New(cfg.Game, rounds, log, gm),
		OnConsumed: func() { consumed.Inc() },
		OnError:    func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	// Servidor HTTP para métricas e health check
	srv := metrics.StartMetricsServer(cfg.MetricsPort, reg, func(ctx context.Context) error {
		if pl == nil {
			return nil
		}
		if err := pl.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return nil
	})
	defer srv.Close()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("round-audit-worker started", zap.String("topic", cfg.TopicRoundEvents))
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}
	log.Info("round-audit-worker stopped")
}
