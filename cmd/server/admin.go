package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/arnavshah/relief-dispatch-go/pkg/config"
	"github.com/arnavshah/relief-dispatch-go/pkg/database"
	"github.com/arnavshah/relief-dispatch-go/pkg/logger"
	"github.com/arnavshah/relief-dispatch-go/pkg/router"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// Open migrates as part of connecting
		db, err := database.Open(cfg.Database, logger.New("database"))
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return sqlDB.Close()
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <username>",
	Short: "Mint a bearer token for an existing account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *router.App) error {
			acc, err := app.Accounts.FindByUsername(ctx, args[0])
			if err != nil {
				return fmt.Errorf("find %s: %w", args[0], err)
			}
			tok, err := app.Tokens.CreateToken(acc.Operator())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		})
	},
}

var (
	assignAs       string
	assignMaxTasks int
)

var assignCmd = &cobra.Command{
	Use:   "assign <request-id>",
	Short: "Auto-assign a pending request from the shell",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid request id %q", args[0])
		}
		return withApp(cmd, func(ctx context.Context, app *router.App) error {
			acc, err := app.Accounts.FindByUsername(ctx, assignAs)
			if err != nil {
				return fmt.Errorf("find operator %s: %w", assignAs, err)
			}
			maxTasks := assignMaxTasks
			if maxTasks == 0 {
				maxTasks = app.Config.Assignment.MaxActiveTasks
			}
			out, err := app.Coordinator.AutoAssign(ctx, acc.Operator(), uint(id), maxTasks)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			return out.Err()
		})
	},
}

func init() {
	assignCmd.Flags().StringVar(&assignAs, "as", "admin", "username of the acting operator")
	assignCmd.Flags().IntVar(&assignMaxTasks, "max-active-tasks", 0, "capacity threshold (default from config)")
	rootCmd.AddCommand(migrateCmd, tokenCmd, assignCmd)
}

func withApp(cmd *cobra.Command, fn func(context.Context, *router.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" && cmd.Name() == "token" {
		fmt.Fprintln(os.Stderr, "warning: auth.jwt_secret is not set, the token will not be accepted by a running server")
	}
	cfg.Metrics.Disabled = true
	return runWithApp(cmd.Context(), cfg, fn)
}

func runWithApp(ctx context.Context, cfg *config.Config, fn func(context.Context, *router.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := router.Build(ctx, cfg, logger.New("cli"))
	if err != nil {
		return err
	}
	defer app.Close(context.Background())
	return fn(ctx, app)
}
