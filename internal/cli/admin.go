package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-loyalty-backend/internal/config"
	"github.com/tbourn/go-loyalty-backend/internal/domain"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
)

func init() {
	rootCmd.AddCommand(migrateCmd, sweepCmd, staffCmd, catalogCmd, rewardCmd)
	staffCmd.AddCommand(staffAddCmd, staffLinkCmd, staffDisableCmd)
	catalogCmd.AddCommand(catalogSetCmd)
	rewardCmd.AddCommand(rewardAddCmd)

	sweepCmd.Flags().Duration("older-than", 0, "cancel pending orders older than this (default PENDING_TTL)")
	catalogSetCmd.Flags().Bool("unavailable", false, "mark the item as not orderable")
	rewardAddCmd.Flags().Int("stock", -1, "units available; negative means unlimited")
	rewardAddCmd.Flags().String("description", "", "shown to customers")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(context.Context, config.Config, *app) error {
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Cancel stale pending orders once and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		return withApp(func(ctx context.Context, cfg config.Config, a *app) error {
			if olderThan <= 0 {
				olderThan = cfg.PendingTTL
			}
			n, err := a.fulfillment.SweepStalePending(ctx, olderThan)
			if err != nil {
				return err
			}
			a.fulfillment.Wait()
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d pending orders\n", n)
			return nil
		})
	},
}

var staffCmd = &cobra.Command{
	Use:   "staff",
	Short: "Manage staff members and their chat sessions",
}

var staffAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a staff member and print its id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, _ config.Config, a *app) error {
			m, err := a.staff.Create(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), m.ID)
			return nil
		})
	},
}

var staffLinkCmd = &cobra.Command{
	Use:   "link STAFF_ID CHAT_ID",
	Short: "Bind a bot chat to a staff member",
	Long: `Bind a bot chat to a staff member. The bot's /start command shows
the chat id.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, _ config.Config, a *app) error {
			s, err := a.staff.LinkSession(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s linked to %s (off duty)\n", s.TransportSessionID, s.StaffID)
			return nil
		})
	},
}

var staffDisableCmd = &cobra.Command{
	Use:   "disable STAFF_ID",
	Short: "Deactivate a staff member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, _ config.Config, a *app) error {
			return a.staff.SetActive(ctx, args[0], false)
		})
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage orderable items",
}

var catalogSetCmd = &cobra.Command{
	Use:   "set ID NAME PRICE POINTS",
	Short: "Create or replace a catalog item",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := decimal.NewFromString(args[2])
		if err != nil || price.IsNegative() {
			return fmt.Errorf("invalid price %q", args[2])
		}
		points, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil || points < 0 {
			return fmt.Errorf("invalid points %q", args[3])
		}
		unavailable, _ := cmd.Flags().GetBool("unavailable")
		return withApp(func(ctx context.Context, _ config.Config, a *app) error {
			return repo.SaveCatalogItem(ctx, a.db, &domain.CatalogItem{
				ID:        args[0],
				Name:      args[1],
				Price:     price.Round(2),
				Points:    points,
				Available: !unavailable,
			})
		})
	},
}

var rewardCmd = &cobra.Command{
	Use:   "reward",
	Short: "Manage redeemable rewards",
}

var rewardAddCmd = &cobra.Command{
	Use:   "add NAME POINTS_COST",
	Short: "Create an enabled reward and print its id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cost, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || cost <= 0 {
			return fmt.Errorf("invalid points cost %q", args[1])
		}
		stock, _ := cmd.Flags().GetInt("stock")
		desc, _ := cmd.Flags().GetString("description")
		rw := &domain.Reward{Name: args[0], Description: desc, PointsCost: cost, Enabled: true}
		if stock >= 0 {
			rw.Stock = &stock
		}
		return withApp(func(ctx context.Context, _ config.Config, a *app) error {
			if err := repo.CreateReward(ctx, a.db, rw); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rw.ID)
			return nil
		})
	},
}
