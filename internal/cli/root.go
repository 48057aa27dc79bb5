// Package cli is the loyaltyd command tree: the API server plus the
// operator commands that manage the database around it.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-loyalty-backend/internal/config"
	"github.com/tbourn/go-loyalty-backend/internal/notify"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
	"github.com/tbourn/go-loyalty-backend/internal/services"
	"github.com/tbourn/go-loyalty-backend/internal/sysutil"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:           "loyaltyd",
	Short:         "Venue loyalty backend",
	Long:          `loyaltyd serves the orders, points and rewards API and runs the staff bot.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "loyaltyd:", err)
		return 1
	}
	return 0
}

// loadConfig reads the dotenv file (if any), the environment, and sets up
// logging. Variables already in the environment win over the file.
func loadConfig() (config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return config.Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	sysutil.SetupLogging(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	return cfg, nil
}

func dsnOf(cfg config.Config) string {
	if cfg.DBDriver == repo.DriverPostgres {
		return cfg.DBDSN
	}
	return cfg.DBPath
}

// openDB connects and migrates the schema.
func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(cfg.DBDriver, dsnOf(cfg))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("gorm tracing disabled")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// app is the service graph shared by serve and the operator commands.
type app struct {
	db          *gorm.DB
	dispatcher  *services.Dispatcher
	ledger      *services.LedgerService
	staff       *services.StaffService
	orders      *services.OrderService
	fulfillment *services.FulfillmentService
	redemptions *services.RedemptionService
}

func newApp(cfg config.Config, db *gorm.DB) (*app, error) {
	tiers, err := services.ParseTiers(cfg.TierThresholds, cfg.TierMultipliers)
	if err != nil {
		return nil, fmt.Errorf("tiers: %w", err)
	}
	disp := services.NewDispatcher(nil, cfg.Notify.Timeout)
	ledger := services.NewLedgerService(db, &services.SettingsTierSource{Defaults: tiers})
	staff := services.NewStaffService(db)

	orders := services.NewOrderService(db, ledger, nil, disp)
	orders.MaxActiveOrders = cfg.MaxActiveOrders
	orders.MaxItemQty = cfg.MaxItemQty

	return &app{
		db:          db,
		dispatcher:  disp,
		ledger:      ledger,
		staff:       staff,
		orders:      orders,
		fulfillment: services.NewFulfillmentService(db, ledger, staff, disp),
		redemptions: services.NewRedemptionService(db, ledger, staff, disp),
	}, nil
}

// channel builds the staff notification channel over t and installs it as
// the services' notifier.
func (a *app) channel(cfg config.Config, t notify.Transport) *notify.Channel {
	ch := notify.NewChannel(a.db, t, a.staff, a.fulfillment, a.redemptions)
	ch.Concurrency = cfg.Notify.Concurrency
	ch.SendTimeout = cfg.Notify.SendTimeout
	tag, err := language.Parse(cfg.Notify.Language)
	if err != nil {
		log.Warn().Str("language", cfg.Notify.Language).Msg("unknown notification language, using Spanish")
		tag = language.Spanish
	}
	ch.Render = notify.NewRenderer(tag)
	a.dispatcher.SetNotifier(ch)
	return ch
}

// withApp runs fn against a freshly opened, migrated database.
func withApp(fn func(ctx context.Context, cfg config.Config, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)
	a, err := newApp(cfg, db)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return fn(ctx, cfg, a)
}
