// Command marketplaced runs the agent marketplace API server: the HTTP
// router, the deadline consumer, and wallet recovery all start from one
// process and share the same Postgres pool and Redis client.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arcsign/chainadapter/rpc"
	chainstorage "github.com/arcsign/chainadapter/storage"

	"github.com/agentmarket/engine/internal/config"
	"github.com/agentmarket/engine/internal/httpapi"
	"github.com/agentmarket/engine/internal/models"
	"github.com/agentmarket/engine/internal/services/address"
	"github.com/agentmarket/engine/internal/services/audit"
	"github.com/agentmarket/engine/internal/services/auth"
	chainsvc "github.com/agentmarket/engine/internal/services/chainadapter"
	"github.com/agentmarket/engine/internal/services/coinregistry"
	"github.com/agentmarket/engine/internal/services/deadline"
	"github.com/agentmarket/engine/internal/services/fees"
	"github.com/agentmarket/engine/internal/services/hdkey"
	"github.com/agentmarket/engine/internal/services/jobs"
	"github.com/agentmarket/engine/internal/services/ledger"
	"github.com/agentmarket/engine/internal/services/ratelimit"
	"github.com/agentmarket/engine/internal/services/sandbox"
	"github.com/agentmarket/engine/internal/services/seedstore"
	"github.com/agentmarket/engine/internal/services/wallet"
	"github.com/agentmarket/engine/internal/storage/postgres"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	var seeds seedstore.SeedStore
	switch cfg.SecretsDriver {
	case config.SecretsDriverEncryptedFile:
		seeds = seedstore.NewEncryptedFileSeedStore(cfg.SeedEncryptedPath, cfg.SeedPassphraseEnv)
	default:
		seeds = seedstore.NewEnvSeedStore(cfg.SeedEnvVar)
	}
	seed, err := seeds.LoadSeed()
	if err != nil {
		return fmt.Errorf("load hd seed: %w", err)
	}

	hdKeys := hdkey.NewHDKeyService()

	store := postgres.New(pool)

	schedule := fees.Schedule{
		BaseFeePercentBp: cfg.BaseFeePercentBp,
	}
	if schedule.VerificationFeePerCPUSecond, err = models.NewCreditsFromString(cfg.VerificationFeePerCPUSecond); err != nil {
		return fmt.Errorf("parse verification_fee_per_cpu_second: %w", err)
	}
	if schedule.VerificationFeeMinimum, err = models.NewCreditsFromString(cfg.VerificationFeeMinimum); err != nil {
		return fmt.Errorf("parse verification_fee_minimum: %w", err)
	}
	if schedule.StorageFeePerKB, err = models.NewCreditsFromString(cfg.StorageFeePerKB); err != nil {
		return fmt.Errorf("parse storage_fee_per_kb: %w", err)
	}
	if schedule.StorageFeeMinimum, err = models.NewCreditsFromString(cfg.StorageFeeMinimum); err != nil {
		return fmt.Errorf("parse storage_fee_minimum: %w", err)
	}
	if schedule.WithdrawalFlatFee, err = models.NewCreditsFromString(cfg.WithdrawalFlatFee); err != nil {
		return fmt.Errorf("parse withdrawal_flat_fee: %w", err)
	}

	led := ledger.New(pool, schedule)
	jobsSvc := jobs.New(store, store, led)

	authenticator := auth.NewAuthenticator(store, auth.NewRedisNonceStore(redisClient), cfg.RequestTimestampSkew, cfg.NonceTTL)
	limiter := ratelimit.NewLimiter(redisClient)

	jobDeadlines := postgres.NewJobDeadlineStore(store, led)
	deadlineQueue := deadline.NewQueue(redisClient, jobDeadlines, log)

	var runner sandbox.Runner
	if cfg.SandboxDriver == config.SandboxDriverManaged {
		runner = sandbox.NewManagedRunner(cfg.SandboxManagedBaseURL)
	} else {
		runner = sandbox.NewLocalRunner(cfg.SandboxImagePython, cfg.SandboxImageNode, cfg.SandboxImageBash, cfg.SandboxImageRuby, log)
	}
	verifier := sandbox.NewVerifier(runner)

	addressSvc := wallet.NewAddressService(store, hdKeys, seed, cfg.ChainID)

	healthTracker := rpc.NewSimpleHealthTracker()
	rpcClient, err := rpc.NewHTTPRPCClient(cfg.RPCEndpoints, 10*time.Second, healthTracker)
	if err != nil {
		return fmt.Errorf("init rpc client: %w", err)
	}
	depositSvc := wallet.NewDepositService(rpcClient, store, store, led, cfg.USDCContractAddress, cfg.RequiredConfirmations, cfg.MinimumDepositUSDC, log)

	chainService := chainsvc.NewService(chainstorage.NewMemoryTxStore(), cfg.AlchemyAPIKey)
	treasuryKeyHex := os.Getenv(cfg.TreasuryPrivateKeyEnv)
	treasurySigner, err := chainsvc.NewTreasurySigner(treasuryKeyHex, cfg.TreasuryAddress)
	if err != nil {
		return fmt.Errorf("init treasury signer: %w", err)
	}
	treasuryAudit, err := audit.NewAuditLogger(cfg.TreasuryAuditLogPath)
	if err != nil {
		return fmt.Errorf("init treasury audit log: %w", err)
	}
	withdrawalWorker := wallet.NewWithdrawalWorker(store, led, chainService, treasurySigner, cfg.TreasuryAddress, cfg.ChainID, cfg.USDCContractAddress, treasuryAudit, log)

	linker := address.NewAddressService(log)
	coins := coinregistry.NewRegistry()

	server := httpapi.NewServer(httpapi.Deps{
		Store:         store,
		Ledger:        led,
		Jobs:          jobsSvc,
		Authenticator: authenticator,
		Limiter:       limiter,
		Deadlines:     deadlineQueue,
		Addresses:     addressSvc,
		Deposits:      depositSvc,
		Withdrawals:   withdrawalWorker,
		Linker:        linker,
		Coins:         coins,
		Verifier:      verifier,
		Schedule:      schedule,
		Config:        cfg,
		Log:           log,
	})

	if err := deadlineQueue.RecoverOnStartup(ctx); err != nil {
		log.Warn("deadline queue recovery failed", zap.Error(err))
	}
	go deadlineQueue.Run(ctx)

	wallet.Recover(ctx, store, depositSvc, store, withdrawalWorker, log)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
