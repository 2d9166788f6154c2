package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harun/actuator/internal/config"
	"github.com/harun/actuator/internal/logger"
	"github.com/harun/actuator/internal/observability"
	"github.com/harun/actuator/internal/tracing"
	"github.com/harun/actuator/pkg/action"
	"github.com/harun/actuator/pkg/approval"
	"github.com/harun/actuator/pkg/blockparser"
	"github.com/harun/actuator/pkg/events"
	"github.com/harun/actuator/pkg/hooks"
	"github.com/harun/actuator/pkg/resultsink"
	"github.com/harun/actuator/pkg/turn"
)

var (
	replayChunk        int
	replayDelay        time.Duration
	replayYes          bool
	replayDeny         bool
	replayMetricsAddr  string
	replayProfile      string
	replayConversation string
	replayEvents       bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <file|->",
	Short: "Replay a recorded agent response through the action pipeline",
	Long: `Replay feeds a recorded agent response to a new turn in small fragments,
the way a model stream would arrive. Every action of the configured catalog
is handled by a dry-run handler, so nothing is executed. The rendered
results are printed to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().IntVar(&replayChunk, "chunk", 16, "fragment size in characters")
	replayCmd.Flags().DurationVar(&replayDelay, "delay", 0, "pause between fragments")
	replayCmd.Flags().BoolVar(&replayYes, "yes", false, "approve every action")
	replayCmd.Flags().BoolVar(&replayDeny, "deny", false, "deny every action")
	replayCmd.Flags().StringVar(&replayMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while replaying")
	replayCmd.Flags().StringVar(&replayProfile, "profile", "", "permission profile to use instead of the active one")
	replayCmd.Flags().StringVar(&replayConversation, "conversation", "replay", "conversation id")
	replayCmd.Flags().BoolVar(&replayEvents, "events", false, "print turn events as JSON to stderr")
	replayCmd.MarkFlagsMutuallyExclusive("yes", "deny")

	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayChunk <= 0 {
		return fmt.Errorf("--chunk must be positive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	appLogger, closeLogs, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	input, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Setup(cfg.Tracing.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer shutdown(context.Background())
	}

	addr := replayMetricsAddr
	if addr == "" && cfg.Metrics.Enabled {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		shutdown, err := serveMetrics(addr)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	profiles, store, err := openProfiles(cfg, replayProfile)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		if cfg.Profiles.Watch {
			if err := store.Watch(ctx); err != nil {
				appLogger.Warn().Err(err).Msg("Profile hot reload disabled")
			}
		}
	}

	allowlist, err := approval.NewAllowlist(cfg.Approval.AllowlistPath)
	if err != nil {
		return err
	}

	hookManager, err := buildHooks(cfg, appLogger)
	if err != nil {
		return err
	}

	bus, stopEvents, err := eventBus(ctx, cmd.ErrOrStderr(), appLogger, hookManager)
	if err != nil {
		return err
	}
	defer stopEvents()

	handler, err := approvalHandler(cmd, cfg, allowlist, args[0] == "-")
	if err != nil {
		return err
	}
	gate := approval.NewManager(handler,
		approval.WithAutoPolicy(approval.AutoPolicy{
			Categories: cfg.Approval.AutoCategories,
			Actions:    cfg.Approval.AutoActions,
		}),
		approval.WithAllowlist(allowlist),
		approval.WithBus(bus),
		approval.WithTimeout(cfg.ApprovalTimeout()),
	)

	renderer, err := resultsink.NewTemplateRenderer(cfg.Render.Templates)
	if err != nil {
		return err
	}

	orchestrator, err := turn.NewOrchestrator(turn.Config{
		Registry: registry,
		Profiles: profiles,
		Gate:     gate,
		Parser: blockparser.Options{
			EnvelopeTag:     cfg.Parser.EnvelopeTag,
			MaxCaptureBytes: cfg.Parser.MaxCaptureBytes,
			MaxTagBytes:     cfg.Parser.MaxTagBytes,
			Debug:           cfg.Parser.Debug,
		},
		Bus:      bus,
		Renderer: renderer,
		Logger:   appLogger.Component("turn"),
	})
	if err != nil {
		return err
	}

	start := time.Now()
	run, err := orchestrator.Start(ctx, turn.StartOptions{ConversationID: replayConversation})
	if err != nil {
		return err
	}

	var entries []action.ResultEntry
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return feedChunks(gctx, run, input, replayChunk, replayDelay, appLogger)
	})
	g.Go(func() error {
		var err error
		entries, err = run.Wait(context.Background())
		return err
	})
	if err := g.Wait(); err != nil {
		run.Cancel()
		return err
	}

	// Flush hooks and event output before the summary.
	stopEvents()

	out := cmd.OutOrStdout()
	for i, entry := range entries {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, entry.RenderedText)
	}

	state := run.State()
	status := "ready"
	if state.Cancelled {
		status = "cancelled"
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "turn %s %s: %d blocks, %d results, %d mistakes in %s\n",
		run.ID(), status, state.Blocks, len(entries), state.MistakeCount, formatDuration(time.Since(start)))
	return nil
}

func readInput(cmd *cobra.Command, source string) (string, error) {
	if source == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", source, err)
	}
	return string(data), nil
}

// chunks splits s into fragments of at most size runes.
func chunks(s string, size int) []string {
	runes := []rune(s)
	out := make([]string, 0, len(runes)/size+1)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

func feedChunks(ctx context.Context, run *turn.Run, input string, size int, delay time.Duration, appLogger *logger.Logger) error {
	for _, fragment := range chunks(input, size) {
		if err := run.Feed(fragment); err != nil {
			if !errors.Is(err, turn.ErrRunClosed) {
				appLogger.Warn().Err(err).Msg("Response stream rejected by parser")
			}
			return nil
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
		}
	}
	return run.SignalEndOfStream()
}

func approvalHandler(cmd *cobra.Command, cfg *config.Config, allowlist *approval.Allowlist, inputFromStdin bool) (approval.Handler, error) {
	switch {
	case replayYes:
		return approval.NewAutoApproveHandler(), nil
	case replayDeny:
		return approval.DenyAllHandler{Reason: "denied by --deny"}, nil
	}

	switch cfg.Approval.Mode {
	case "auto":
		return approval.NewAutoApproveHandler(), nil
	case "deny":
		return approval.DenyAllHandler{}, nil
	}

	if inputFromStdin {
		return nil, fmt.Errorf("interactive approval needs stdin; use --yes or --deny when replaying from stdin")
	}
	return approval.NewCLIHandler(cmd.InOrStdin(), cmd.ErrOrStderr(), allowlist), nil
}

// eventBus returns a bus that prints every event when --events is set and
// runs the configured hooks.
func eventBus(ctx context.Context, w io.Writer, appLogger *logger.Logger, hookManager *hooks.Manager) (events.Bus, func(), error) {
	if !replayEvents && !hookManager.Active() {
		return events.NopBus{}, func() {}, nil
	}

	bus := events.NewGoChannelBus(events.GoChannelConfig{
		BlockUntilAck: true,
		Logger:        appLogger.Component("events"),
	})
	subCtx, cancel := context.WithCancel(ctx)
	stream, err := bus.Subscribe(subCtx)
	if err != nil {
		cancel()
		bus.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range stream {
			hookManager.Handle(subCtx, e)
			if !replayEvents {
				continue
			}
			data, err := events.Encode(e)
			if err != nil {
				continue
			}
			fmt.Fprintln(w, string(data))
		}
	}()

	var once sync.Once
	return bus, func() {
		once.Do(func() {
			bus.Close()
			<-done
			cancel()
		})
	}, nil
}

func buildHooks(cfg *config.Config, appLogger *logger.Logger) (*hooks.Manager, error) {
	list := make([]hooks.Hook, 0, len(cfg.Hooks.Hooks))
	for _, h := range cfg.Hooks.Hooks {
		list = append(list, hooks.Hook{
			ID:      h.ID,
			Event:   events.Type(h.Event),
			Action:  h.Action,
			State:   h.State,
			Script:  h.Script,
			Timeout: time.Duration(h.Timeout) * time.Second,
			Enabled: h.Enabled,
		})
	}
	manager, err := hooks.NewManager(hooks.Config{
		Enabled: cfg.Hooks.Enabled,
		Hooks:   list,
		Logger:  appLogger.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure hooks: %w", err)
	}
	return manager, nil
}

func serveMetrics(addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Millisecond)
	if d < time.Second {
		return d.String()
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
