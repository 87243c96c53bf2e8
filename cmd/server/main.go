package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"circlesave.backend/internal/config"
	"circlesave.backend/internal/infrastructure/blockchain"
	"circlesave.backend/internal/infrastructure/datasources/postgres"
	"circlesave.backend/internal/infrastructure/jobs"
	"circlesave.backend/internal/infrastructure/messaging"
	"circlesave.backend/internal/infrastructure/repositories"
	"circlesave.backend/internal/interfaces/http/handlers"
	"circlesave.backend/internal/interfaces/http/middleware"
	"circlesave.backend/internal/usecases"
	"circlesave.backend/pkg/jwt"
	"circlesave.backend/pkg/logger"
	"circlesave.backend/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

// chainClient is the part of the EVM client the server needs
type chainClient interface {
	CallView(ctx context.Context, to string, data []byte) ([]byte, error)
	GetTransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
	GetTransactionSender(ctx context.Context, txHash string) (*types.Transaction, common.Address, error)
	Close()
}

// eventPublisher is a ledger event sink that owns a connection
type eventPublisher interface {
	jobs.EventPublisher
	Close() error
}

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	initLog    = logger.Init
	initRedis  = redis.Init
	openDB     = postgres.NewConnection
	migrateDB  = postgres.Migrate
	dialChain  = func(ctx context.Context, rpcURL string) (chainClient, error) {
		return blockchain.NewEVMClient(ctx, rpcURL)
	}
	newPublisher = func(cfg config.KafkaConfig) (eventPublisher, error) {
		return messaging.NewKafkaPublisher(cfg)
	}
	runServer = func(srv *http.Server) error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
	shutdownSignal = func() <-chan os.Signal {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		return quit
	}
)

func main() {
	if err := runMainProcess(); err != nil {
		log.Fatal(err)
	}
}

func runMainProcess() error {
	// Load .env file
	if err := loadDotenv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := loadCfg()

	// Initialize Logger
	initLog(cfg.Server.Env)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger.Info(ctx, "Logger initialized", zap.String("env", cfg.Server.Env))

	// Initialize Redis
	if err := initRedis(cfg.Redis.URL, cfg.Redis.Password); err != nil {
		logger.Error(ctx, "Failed to initialize Redis", zap.Error(err))
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	logger.Info(ctx, "Redis initialized")

	// Set Gin mode
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	db, err := openDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer closeDB(ctx, db)
	logger.Info(ctx, "Connected to PostgreSQL")

	if cfg.Database.AutoMigrate {
		if err := migrateDB(db); err != nil {
			return err
		}
	}

	// Connect to the chain
	chain, err := dialChain(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to chain rpc: %w", err)
	}
	defer chain.Close()

	oracle := blockchain.NewCircleOracle(chain, blockchain.OracleConfig{
		ContractAddress: cfg.Chain.ContractAddress,
		CallTimeout:     cfg.Chain.CallTimeout,
		RateLimit:       rate.Limit(cfg.Chain.RateLimit),
		RateBurst:       cfg.Chain.RateBurst,
		MaxRetries:      cfg.Chain.MaxRetries,
		RetryBackoff:    cfg.Chain.RetryBackoff,
	})
	payoutVerifier := blockchain.NewPayoutVerifier(chain, oracle, cfg.Chain.ContractAddress)

	// Initialize JWT service
	jwtService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)

	// Initialize repositories
	uow := repositories.NewUnitOfWork(db)
	userRepo := repositories.NewUserRepository(db)
	circleRepo := repositories.NewCircleRepository(db)
	vaultRepo := repositories.NewVaultRepository(db)
	contributorRepo := repositories.NewContributorRepository(db)
	withdrawalRepo := repositories.NewWithdrawalRepository(db)
	eventRepo := repositories.NewLedgerEventRepository(db)

	// Initialize usecases
	ledgerUsecase := usecases.NewLedgerUsecase(uow, circleRepo, vaultRepo, contributorRepo, withdrawalRepo, eventRepo, usecases.LedgerOptions{
		OpTimeout:     cfg.Ledger.OpTimeout,
		ClosurePolicy: cfg.Ledger.ClosurePolicy,
	})
	circleUsecase := usecases.NewCircleUsecase(ledgerUsecase, oracle, payoutVerifier, userRepo)
	userUsecase := usecases.NewUserUsecase(userRepo, contributorRepo)

	// Start background jobs
	cycleJob := jobs.NewCycleEndJob(ledgerUsecase, cfg.Jobs.CycleEndInterval)
	if err := cycleJob.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cycle end job: %w", err)
	}
	defer func() { _ = cycleJob.Stop() }()

	confirmationJob := jobs.NewWithdrawalConfirmationJob(ledgerUsecase, payoutVerifier, cfg.Jobs.ConfirmationInterval)
	go confirmationJob.Start(ctx)
	defer confirmationJob.Stop()

	if cfg.Kafka.Enabled() {
		publisher, err := newPublisher(cfg.Kafka)
		if err != nil {
			return err
		}
		defer func() { _ = publisher.Close() }()

		relay := jobs.NewLedgerEventRelay(eventRepo, publisher, jobs.RelayConfig{
			Interval:   cfg.Jobs.RelayInterval,
			BatchSize:  cfg.Jobs.RelayBatchSize,
			MaxRetries: cfg.Jobs.RelayMaxRetries,
		})
		go relay.Start(ctx)
		defer relay.Stop()
	} else {
		logger.Warn(ctx, "Kafka brokers not configured, ledger events stay in the outbox")
	}

	// Initialize router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())

	applyCORSMiddleware(r, cfg.Server.FrontendURL)
	registerHealthRoute(r)
	registerMetricsRoute(r)
	registerAPIV1Routes(r, routeDeps{
		circleHandler:     handlers.NewCircleHandler(circleUsecase),
		withdrawalHandler: handlers.NewWithdrawalHandler(circleUsecase),
		userHandler:       handlers.NewUserHandler(userUsecase),
		authMiddleware:    middleware.AuthMiddleware(jwtService, userUsecase),
		idempotency:       middleware.IdempotencyMiddleware(cfg.Redis.IdempotencyTTL),
	})

	for _, route := range r.Routes() {
		logger.Debug(ctx, "Route registered", zap.String("method", route.Method), zap.String("path", route.Path))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		select {
		case <-shutdownSignal():
		case <-ctx.Done():
			return
		}
		logger.Info(ctx, "Shutting down server")
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info(ctx, "CircleSave backend starting", zap.String("port", cfg.Server.Port))
	if err := runServer(srv); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func closeDB(ctx context.Context, db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn(ctx, "Failed to close database", zap.Error(err))
	}
}
