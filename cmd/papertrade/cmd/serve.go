package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrade/auth"
	"github.com/rustyeddy/papertrade/broadcast"
	"github.com/rustyeddy/papertrade/httpapi"
	"github.com/rustyeddy/papertrade/market"
	"github.com/rustyeddy/papertrade/pubsub"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	Long: `Start the paper-trading server.

The server exposes quotes, the wallet API, a periodic price broadcast on
/ws/prices and a chat room on /ws/chat. JWT_SECRET (or auth.secret) must be set.

Example:
  JWT_SECRET=change-me papertrade serve --config papertrade.yaml`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	jwt, err := auth.NewJWT(cfg.Auth.Secret, auth.WithTTL(cfg.Auth.TTLDuration()))
	if err != nil {
		return fmt.Errorf("auth: %w (set %s)", err, "JWT_SECRET")
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client := newClient(cfg)
	cache := newCache(cfg, client, log)
	wallet := newLedger(cfg, store, log)

	hub := pubsub.NewHub(log)
	defer hub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	symbol := market.Symbol(cfg.Broadcast.Symbol)
	if cfg.Broadcast.Enabled {
		sched := broadcast.New(cache, hub,
			broadcast.WithSymbol(symbol),
			broadcast.WithTopic(cfg.Broadcast.Topic),
			broadcast.WithPeriod(cfg.Broadcast.PeriodDuration()),
			broadcast.WithLogger(log),
		)
		sched.Start(ctx)
		defer sched.Stop()
	}

	api := httpapi.New(httpapi.Options{
		Quotes:       cache,
		Catalog:      client,
		Wallet:       wallet,
		Auth:         jwt,
		Hub:          hub,
		PriceTopic:   cfg.Broadcast.Topic,
		HealthSymbol: symbol,
		Log:          log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by Shutdown; closing
	// the hub (deferred) ends them.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
