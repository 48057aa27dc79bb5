package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-loyalty-backend/internal/config"
	httpapi "github.com/tbourn/go-loyalty-backend/internal/http"
	"github.com/tbourn/go-loyalty-backend/internal/notify"
	"github.com/tbourn/go-loyalty-backend/internal/notify/telegram"
	"github.com/tbourn/go-loyalty-backend/internal/observability"
	"github.com/tbourn/go-loyalty-backend/internal/sysutil"
)

const shutdownTimeout = 15 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the staff bot and the pending-order sweeper",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := sysutil.SignalContext(cmd.Context())
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)

	a, err := newApp(cfg, db)
	if err != nil {
		return err
	}

	var (
		transport notify.Transport = notify.LogTransport{}
		bot       *telegram.Bot
	)
	if cfg.Telegram.Token != "" {
		bot, err = telegram.New(cfg.Telegram.Token, telegram.Options{
			Mode:        cfg.Telegram.Mode,
			WebhookURL:  cfg.Telegram.WebhookURL,
			PollTimeout: cfg.Telegram.PollTimeout,
		})
		if err != nil {
			return err
		}
		transport = bot
	} else {
		log.Warn().Msg("TELEGRAM_TOKEN not set, staff messages go to the log")
	}
	ch := a.channel(cfg, transport)

	svc := httpapi.Services{
		Orders:      a.orders,
		Fulfillment: a.fulfillment,
		Ledger:      a.ledger,
		Redemptions: a.redemptions,
		Staff:       a.staff,
	}
	if bot != nil {
		bot.SetHandler(ch)
		if cfg.Telegram.Mode == telegram.ModeWebhook {
			svc.Webhook = bot
		}
		if err := bot.Start(ctx); err != nil {
			return err
		}
		defer bot.Stop()
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, svc, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	if cfg.SweepInterval > 0 {
		go a.fulfillment.RunSweeper(ctx, cfg.SweepInterval, cfg.PendingTTL)
	}

	errCh := make(chan error, 1)
	go func() {
		logStartup(cfg)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	a.fulfillment.Wait()
	return nil
}

func logStartup(cfg config.Config) {
	log.Info().
		Str("version", Version).
		Str("port", cfg.Port).
		Str("db_driver", cfg.DBDriver).
		Str("base_path", cfg.APIBasePath).
		Bool("swagger", cfg.SwaggerEnabled).
		Bool("bot", cfg.Telegram.Token != "").
		Str("bot_mode", cfg.Telegram.Mode).
		Dur("pending_ttl", cfg.PendingTTL).
		Msg("loyaltyd listening")
}
