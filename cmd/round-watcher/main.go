package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/radieske/multiplier-bet-platform/internal/round-engine/watcher"
	"github.com/radieske/multiplier-bet-platform/internal/shared/logger"
	"github.com/radieske/multiplier-bet-platform/internal/shared/money"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

type options struct {
	baseURL     string
	maxAttempts int
	raw         bool
	logLevel    string
}

func main() {
	opts := &options{}
	root := &cobra.Command{
		Use:          "round-watcher",
		Short:        "Acompanha as rodadas do motor de multiplicador",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.baseURL, "url", "http://localhost:8090", "endereço do round-engine")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "nível de log (debug|info|warn|error)")

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Imprime fases, ticks e liquidações em tempo real",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	watch.Flags().IntVar(&opts.maxAttempts, "max-attempts", 5, "tentativas de reconexão antes de desistir")
	watch.Flags().BoolVar(&opts.raw, "raw", false, "imprime os envelopes JSON")

	current := &cobra.Command{
		Use:   "current",
		Short: "Mostra o snapshot da rodada corrente",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCurrent(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	root.AddCommand(watch, current)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runWatch(ctx context.Context, opts *options, out io.Writer) error {
	log, err := logger.New("round-watcher", "local", opts.logLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	m := watcher.NewConnManager(watcher.Options{
		URL:         wsURL(opts.baseURL),
		MaxAttempts: opts.maxAttempts,
		Log:         log,
		OnState: func(s watcher.Status) {
			switch s.State {
			case watcher.StateConnecting, watcher.StateReconnecting:
				fmt.Fprintf(out, "* %s (%d/%d)\n", s.State, s.Attempt, s.MaxAttempts)
			case watcher.StateFailed:
				fmt.Fprintf(out, "* gave up after %d attempts: %v\n", s.Attempt, s.Err)
			default:
				fmt.Fprintf(out, "* %s\n", s.State)
			}
		},
	})
	defer m.Close()

	return m.Stream(ctx, func(env events.Envelope, ev events.Event) error {
		if opts.raw {
			b, err := json.Marshal(env)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, string(b))
			return err
		}
		_, err := fmt.Fprintln(out, describe(ev))
		return err
	})
}

func describe(ev events.Event) string {
	switch e := ev.(type) {
	case *events.PhaseChanged:
		s := fmt.Sprintf("[%s] phase %s", short(e.RoundID), e.Phase)
		if e.BettingEndTime != nil {
			s += fmt.Sprintf(" (bets close in %s)", time.Until(*e.BettingEndTime).Round(100*time.Millisecond))
		}
		if e.SeedHash != "" {
			s += " commitment " + short(e.SeedHash)
		}
		return s
	case *events.MultiplierTick:
		return fmt.Sprintf("[%s] #%03d  x%s", short(e.RoundID), e.Index, e.Multiplier.StringFixed(money.Places))
	case *events.BetPlaced:
		return fmt.Sprintf("[%s] bet %s by %s", short(e.RoundID), money.FormatCents(e.AmountCents), e.UserID)
	case *events.CashOutMade:
		return fmt.Sprintf("[%s] cash-out x%s by %s wins %s", short(e.RoundID), e.Multiplier.StringFixed(money.Places), e.UserID, money.FormatCents(e.AmountCents))
	case *events.RoundSettled:
		return fmt.Sprintf("[%s] settled at x%s (%d bets, %d failed) seed %s", short(e.RoundID),
			e.FinalMultiplier.StringFixed(money.Places), e.SettledBets, e.FailedBets, e.Seed)
	}
	return fmt.Sprintf("%T", ev)
}

func runCurrent(ctx context.Context, opts *options, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(opts.baseURL, "/")+"/v1/rounds/current", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("round-engine answered %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var st events.RoundState
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return err
	}
	fmt.Fprintf(out, "round %s  phase %s  tick %d  x%s\n", st.RoundID, st.Phase, st.TickIndex, st.Multiplier.StringFixed(money.Places))
	fmt.Fprintf(out, "betting ends %s, round ends %s\n", st.BettingEndTime.Format(time.RFC3339), st.RoundEndTime.Format(time.RFC3339))
	return nil
}

func wsURL(base string) string {
	u := strings.TrimRight(base, "/") + "/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

