package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"semaphore/liveclass/internal/auth"
	"semaphore/liveclass/internal/clock"
	"semaphore/liveclass/internal/collab"
	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/jobs"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		return db.MigrateUp(cfg.DatabaseURL, logger)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Cancel expired waiting room entries once and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx := cmd.Context()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		// The sweep only touches the store.
		sweeper := collab.NewService(db.NewStore(pool), nil, nil, nil, clock.System{}, collab.Config{}, logger)
		expired, err := jobs.RunCleanup(ctx, sweeper, cfg.CleanupJobTimeout, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d waiting room entries\n", expired)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for local testing",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().String("user-id", "", "user id (random when empty)")
	tokenCmd.Flags().String("type", auth.UserTypeStudent, "user type: student, teacher or admin")
	tokenCmd.Flags().String("name", "", "display name")
	tokenCmd.Flags().Duration("ttl", 12*time.Hour, "token lifetime")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if !cfg.Development() {
		logger.Warn("minting a token outside development", zap.String("app_env", cfg.AppEnv))
	}

	userID, _ := cmd.Flags().GetString("user-id")
	userType, _ := cmd.Flags().GetString("type")
	name, _ := cmd.Flags().GetString("name")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if userID == "" {
		userID = db.UUIDString(db.NewID())
	}
	if _, err := db.ParseUUID(userID); err != nil {
		return fmt.Errorf("user-id: %w", err)
	}

	token, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, ttl, auth.Claims{
		UserID:   userID,
		UserType: userType,
		Name:     name,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
