package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/chain"
	"github.com/streampay/backend/internal/config"
	"github.com/streampay/backend/internal/db"
	"github.com/streampay/backend/internal/events"
	"github.com/streampay/backend/internal/lock"
	"github.com/streampay/backend/internal/pending"
	"github.com/streampay/backend/internal/repositories"
	"github.com/streampay/backend/internal/services"
	"github.com/streampay/backend/internal/vault"
)

// sessionctl is the operator CLI for spending sessions.

var (
	auditLimit int
	actor      string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "sessionctl",
	Short:         "Inspect and manage spending sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire active sessions past their expiry time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd.Context(), func(ctx context.Context, env *env) error {
			n, err := env.sessions.ExpireStaleSessions(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("expired %d session(s)\n", n)
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show [wallet]",
	Short: "Show a wallet's active session and its audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd.Context(), func(ctx context.Context, env *env) error {
			session, err := env.sessions.GetActiveSession(ctx, args[0])
			if err != nil {
				return err
			}
			if session == nil {
				fmt.Printf("no active session for %s\n", args[0])
				return nil
			}
			trail, err := env.audit.GetByEntity(ctx, "session", session.ID, auditLimit, 0)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"session": session, "audit": trail})
		})
	},
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "List active sessions whose stored remaining amount disagrees with approved minus spent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd.Context(), func(ctx context.Context, env *env) error {
			report, err := env.sessions.DriftReport(ctx)
			if err != nil {
				return err
			}
			if len(report) == 0 {
				fmt.Println("no drift")
				return nil
			}
			return printJSON(report)
		})
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke [wallet]",
	Short: "Revoke a wallet's active session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd.Context(), func(ctx context.Context, env *env) error {
			session, err := env.sessions.RevokeSession(ctx, args[0], actor)
			if err != nil {
				return err
			}
			fmt.Printf("revoked session %s (remaining %s USDC left delegated on chain)\n",
				session.ID, session.RemainingAmount.StringFixed(6))
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")
	showCmd.Flags().IntVar(&auditLimit, "audit-limit", 20, "number of audit entries to show")
	revokeCmd.Flags().StringVar(&actor, "actor", "sessionctl", "operator recorded in the audit log")

	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(driftCmd)
	rootCmd.AddCommand(revokeCmd)
}

type env struct {
	sessions *services.SessionService
	audit    *repositories.AuditRepo
}

func withEnv(parent context.Context, fn func(context.Context, *env) error) error {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	keyVault, err := vault.New(cfg.SessionEncryptionKey)
	if err != nil {
		return fmt.Errorf("key vault: %w", err)
	}

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2, MinConns: 1}, log)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()

	chainClient, err := chain.NewSolanaClient(chain.SolanaConfig{
		RPCURL:            cfg.SolanaRPCURL,
		USDCMint:          cfg.USDCMint,
		FacilitatorSecret: cfg.FacilitatorSecretKey,
		ConfirmTimeout:    cfg.ConfirmTimeout,
		MaxRetries:        cfg.ConfirmMaxRetries,
	}, log)
	if err != nil {
		return fmt.Errorf("chain client: %w", err)
	}

	auditRepo := repositories.NewAuditRepo(pool)
	sessions := services.NewSessionService(repositories.NewSessionRepo(pool), pending.NewRedisStore(rdb),
		chainClient, keyVault, lock.NewRedisLocker(rdb, log), auditRepo, events.NopPublisher{}, cfg, log)

	return fn(ctx, &env{sessions: sessions, audit: auditRepo})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
