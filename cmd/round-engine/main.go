package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/multiplier-bet-platform/internal/round-engine/engine"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/fanout"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/gateway"
	httpapi "github.com/radieske/multiplier-bet-platform/internal/round-engine/http"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/lease"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/ledger"
	"github.com/radieske/multiplier-bet-platform/internal/shared/cache"
	"github.com/radieske/multiplier-bet-platform/internal/shared/config"
	"github.com/radieske/multiplier-bet-platform/internal/shared/db"
	"github.com/radieske/multiplier-bet-platform/internal/shared/kafka"
	"github.com/radieske/multiplier-bet-platform/internal/shared/logger"
	"github.com/radieske/multiplier-bet-platform/internal/shared/metrics"
)

// absorve uma indisponibilidade curta do Kafka
const auditQueueSize = 8192

func main() {
	// carrega config
	cfg := config.Load()
	if err := cfg.Game.Validate(); err != nil {
		panic(fmt.Errorf("game config: %w", err))
	}

	// inicia logger
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	log.Info("starting service", zap.String("service", cfg.ServiceName), zap.String("game_type", cfg.Game.Type))

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ledger: Postgres por padrão, memória para desenvolvimento local
	var led ledger.Ledger
	switch cfg.Ledger {
	case "memory":
		led = ledger.NewMemory()
		log.Warn("using in-memory ledger, balances are lost on restart")
	default:
		pg, err := db.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()
		pl := ledger.NewPostgres(pg)
		if err := pl.EnsureSchema(ctx); err != nil {
			log.Fatal("failed to apply schema", zap.Error(err))
		}
		led = pl
		log.Info("postgres connected")
	}
	seedWallets(ctx, led, os.Getenv("SEED_WALLETS"), log)

	// conecta com cache Redis (pub/sub, snapshot e lease)
	redisClient, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("redis connected")

	// writers Kafka do log de auditoria
	roundsWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRoundEvents)
	betsWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetEvents)
	kpub := fanout.NewKafkaPublisher(roundsWriter, betsWriter, log)
	defer kpub.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	gm := metrics.NewGame(reg)

	// a escrita síncrona no Kafka corre numa fila própria, fora do caminho do tempo real
	audit := fanout.NewAsync("kafka", kpub, auditQueueSize, 5*time.Second, log, gm)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := audit.Close(closeCtx); err != nil {
			log.Warn("audit queue not drained", zap.Error(err))
		}
	}()

	pub := fanout.NewMulti(log, gm,
		fanout.Sink{Name: "redis", Publisher: fanout.NewRedisBroadcaster(redisClient)},
		fanout.Sink{Name: "kafka", Publisher: audit},
	)
	snapshots := fanout.NewSnapshotStore(redisClient, cfg.RedisSnapshotKey, snapshotTTL(cfg.Game))

	// Hub local alimentado pelo canal Redis; toda instância serve WebSocket
	hub := fanout.NewHub(fanout.HubConfig{
		AllowOrigin: func(*http.Request) bool { return true },
		Snapshot:    snapshots.Current,
		Log:         log,
		Metrics:     gm,
	})
	go fanout.StartRedisSubscriber(ctx, redisClient, cfg.Game.Type, hub, log)

	gw := gateway.New(led, snapshots, pub, cfg.Game, log, gm)
	api := httpapi.NewAPI(gw, hub, cfg.Game.Type, log)

	// o motor só roda com a posse do lease
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		runLeader(ctx, cfg, redisClient, engine.Deps{
			Ledger:    led,
			Publisher: pub,
			Snapshots: snapshots,
			Metrics:   gm,
			Log:       log,
		}, log)
	}()

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, reg, func(ctx context.Context) error {
		if err := led.Ping(ctx); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	})
	log.Info("metrics/health server starting", zap.String("port", cfg.MetricsPort))

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api server starting", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
		log.Warn("engine did not stop in time")
	}
	log.Info("round-engine stopped")
}

// runLeader disputa o lease e roda o motor enquanto for o dono.
// Perder o lease cancela o motor; a instância volta a disputar.
func runLeader(ctx context.Context, cfg config.Config, rc *redis.Client, deps engine.Deps, log *zap.Logger) {
	lse := lease.NewRedisLease(rc, cfg.RedisLeaseKey, cfg.Game.LeaseTTL, log)
	for ctx.Err() == nil {
		if err := lse.AcquireWait(ctx, cfg.Game.LeaseTTL/3); err != nil {
			return
		}
		log.Info("lease acquired, engine leading", zap.String("token", lse.Token()))

		termCtx, termCancel := context.WithCancel(ctx)
		lost := lse.Hold(termCtx)
		go func() {
			<-lost
			termCancel()
		}()

		eng, err := engine.New(cfg.Game, deps)
		if err != nil {
			log.Fatal("engine init", zap.Error(err))
		}
		if err := eng.Run(termCtx); err != nil {
			log.Error("engine stopped with error", zap.Error(err))
		}
		termCancel()

		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := lse.Release(releaseCtx); err != nil {
			log.Warn("lease release failed", zap.Error(err))
		}
		releaseCancel()
		if ctx.Err() == nil {
			log.Warn("lease lost, engine stepped down")
		}
	}
}

// snapshotTTL cobre uma rodada inteira; um snapshot mais velho indica motor parado
func snapshotTTL(g config.Game) time.Duration {
	return 2 * (g.BettingDuration + g.RunningDuration)
}

// seedWallets credita saldos iniciais, formato "alice:100000,bob:5000" (centavos).
// Só para ambientes de desenvolvimento.
func seedWallets(ctx context.Context, led ledger.Ledger, entries string, log *zap.Logger) {
	for _, pair := range strings.Split(entries, ",") {
		user, amount, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			continue
		}
		cents, err := strconv.ParseInt(amount, 10, 64)
		if err != nil || cents <= 0 {
			log.Warn("invalid seed wallet", zap.String("entry", pair))
			continue
		}
		bal, err := led.AdjustBalance(ctx, user, cents, "seed:"+user)
		if err != nil {
			log.Warn("seed wallet failed", zap.String("user_id", user), zap.Error(err))
			continue
		}
		log.Info("wallet seeded", zap.String("user_id", user), zap.Int64("balance_cents", bal))
	}
}
