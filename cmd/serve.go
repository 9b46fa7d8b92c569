package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/modsync/modsync/internal/store"
	"github.com/modsync/modsync/internal/watch"
	"github.com/modsync/modsync/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon: queue worker, webhook server, and file watcher",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			a.cfg.Serve.Addr = addr
		}

		if err := a.queue.Start(ctx); err != nil {
			return err
		}
		defer a.queue.Stop()

		receiver := webhook.NewReceiver(a.store, a.queue, a.emitter, a.log)
		server := webhook.NewServer(a.store, receiver, a.log)
		serverErr := make(chan error, 1)
		go func() {
			serverErr <- server.Start(a.cfg.Serve.Addr)
		}()

		if a.cfg.Serve.Watch {
			mods, err := a.store.ListModules(ctx)
			if err != nil {
				return err
			}
			watcher, werr := watch.New(a.cfg.RepoRoot, mods, a.queue, a.log)
			if werr != nil {
				return werr
			}
			if werr := watcher.Start(ctx); werr != nil {
				return werr
			}
			defer watcher.Stop()
		}

		go a.sweepLoop(ctx)

		a.log.Info("modsync daemon running",
			zap.String("addr", a.cfg.Serve.Addr),
			zap.Duration("sweep", a.cfg.Serve.SweepInterval))

		select {
		case <-ctx.Done():
		case err := <-serverErr:
			if err != nil {
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

// sweepLoop periodically enqueues bidirectional syncs for every auto-sync
// module, so mirrors converge even when no webhook or file event arrives.
func (a *app) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Serve.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		mods, err := a.store.ListModules(ctx)
		if err != nil {
			a.log.Error("sweep: listing modules failed", zap.Error(err))
			continue
		}
		for _, m := range mods {
			if !m.AutoSync || !m.Configured() {
				continue
			}
			if _, err := a.queue.Enqueue(ctx, m.ID, store.Bidirectional, 0); err != nil {
				a.log.Warn("sweep: enqueue failed", zap.String("module", m.Name), zap.Error(err))
			}
		}
	}
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
