package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/chatrelay/internal/auth"
	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/repository"
	"github.com/chatrelay/internal/startup"
	"github.com/chatrelay/internal/validator"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Operational tool for the chat relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logger.SetPrefix("chatctl")
	}
	root.AddCommand(newTokenCmd(config.Load), newSeedUserCmd(config.Load), newMigrateCmd(config.Load))
	return root
}

func newTokenCmd(load func() *config.Config) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for a user with the configured secret",
		Example: `  chatctl token --user 7f9c...
  chatctl token --user 7f9c... --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			cfg := load()
			validity := cfg.Auth.TokenTTL
			if ttl > 0 {
				validity = ttl
			}
			token, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, validity).GenerateToken(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to put in the token subject (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token validity (default: TOKEN_TTL from config)")
	return cmd
}

type seedUserInput struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName" validate:"required,max=64"`
	LastName  string `json:"lastName" validate:"max=64"`
	Email     string `json:"email" validate:"required,email"`
}

func newSeedUserCmd(load func() *config.Config) *cobra.Command {
	var in seedUserInput
	cmd := &cobra.Command{
		Use:   "seed-user",
		Short: "Insert a user row; prints the new user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validator.Check(in); err != nil {
				return err
			}
			if in.ID == "" {
				in.ID = uuid.NewString()
			}
			ctx := cmd.Context()
			pool, err := connect(ctx, load())
			if err != nil {
				return err
			}
			defer pool.Close()
			u := &model.User{ID: in.ID, FirstName: in.FirstName, LastName: in.LastName, Email: in.Email}
			if err := repository.NewUserRepository(pool).CreateUser(ctx, u); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "user id (default: random UUID)")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name (required)")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email (required)")
	return cmd
}

func newMigrateCmd(load func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx, load())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := startup.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = 2
	return startup.ConnectDBWithRetry(ctx, poolCfg, 10*time.Second, "chatctl: ")
}
