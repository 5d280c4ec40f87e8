package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quizbot/internal/config"
	transport "quizbot/internal/transport/http"
	"quizbot/internal/transport/telegram"
)

// NewStartCmd builds the CLI subcommand that runs the bot until interrupted.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the quiz bot and the ops HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), *configPath, *port)
		},
	}
}

func runStart(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	periodic := cfg.Execution.FlushMode == config.FlushPeriodic
	rt, err := buildRuntime(ctx, cfg, log, runtimeOptions{flushPerEvent: !periodic})
	if err != nil {
		return err
	}
	defer rt.close()

	rt.dispatcher.Register(ctx, rt.bot)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return telegram.Run(gctx, rt.bot, cfg, log)
	})

	port := portFlag
	if port == "" {
		port = cfg.Server.Port
	}
	if port != "" {
		server := &http.Server{
			Addr: ":" + port,
			Handler: transport.NewMux(transport.NewResultsHandler(rt.hub, log), func(r *http.Request) error {
				if rt.ping == nil {
					return nil
				}
				return rt.ping(r.Context())
			}),
			ReadHeaderTimeout: 15 * time.Second,
		}
		g.Go(func() error {
			log.LogAttrs(gctx, slog.LevelInfo, "",
				slog.String("event", "http.listen"),
				slog.String("addr", server.Addr),
			)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if periodic {
		interval := cfg.FlushInterval()
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := rt.executor.Flush(gctx); err != nil && gctx.Err() == nil {
						log.LogAttrs(gctx, slog.LevelError, "",
							slog.String("event", "cache.flush_failed"),
							slog.String("err", err.Error()),
						)
					}
				}
			}
		})
	}

	runErr := g.Wait()

	// Sessions left dirty by the last events.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.executor.Flush(flushCtx); err != nil {
		log.LogAttrs(flushCtx, slog.LevelError, "",
			slog.String("event", "cache.final_flush_failed"),
			slog.String("err", err.Error()),
		)
	}
	log.LogAttrs(flushCtx, slog.LevelInfo, "", slog.String("event", "shutdown"))

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
