package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"circlesave.backend/internal/config"
	"circlesave.backend/internal/domain/entities"
	"circlesave.backend/internal/infrastructure/datasources/postgres"
	"circlesave.backend/internal/infrastructure/repositories"
	"circlesave.backend/internal/usecases"
	"circlesave.backend/pkg/logger"
)

// circleadmin runs operator maintenance against the ledger database.
//
//	circleadmin delete-circle --circle-id <uuid> [--force]
//	circleadmin delete-circle --on-chain-id <n> [--force]

type adminDeps struct {
	loadEnv func() error
	loadCfg func() *config.Config
	initLog func(env string)
	openDB  func(cfg config.DatabaseConfig) (*gorm.DB, error)
	out     io.Writer
}

var fatalfFn = log.Fatalf

func defaultAdminDeps() adminDeps {
	return adminDeps{
		loadEnv: func() error { return godotenv.Load() },
		loadCfg: config.Load,
		initLog: logger.Init,
		openDB:  postgres.NewConnection,
		out:     os.Stdout,
	}
}

func runAdmin(args []string, deps adminDeps) error {
	def := defaultAdminDeps()
	if deps.loadEnv == nil {
		deps.loadEnv = def.loadEnv
	}
	if deps.loadCfg == nil {
		deps.loadCfg = def.loadCfg
	}
	if deps.initLog == nil {
		deps.initLog = def.initLog
	}
	if deps.openDB == nil {
		deps.openDB = def.openDB
	}
	if deps.out == nil {
		deps.out = def.out
	}

	if len(args) == 0 {
		return errors.New("usage: circleadmin delete-circle --circle-id <uuid> | --on-chain-id <n> [--force]")
	}
	switch args[0] {
	case "delete-circle":
		return runDeleteCircle(args[1:], deps)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runDeleteCircle(args []string, deps adminDeps) error {
	fs := flag.NewFlagSet("delete-circle", flag.ContinueOnError)
	circleIDFlag := fs.String("circle-id", "", "circle UUID")
	onChainIDFlag := fs.Uint64("on-chain-id", 0, "on-chain circle id")
	forceFlag := fs.Bool("force", false, "delete even when the vault still holds funds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*circleIDFlag == "") == (*onChainIDFlag == 0) {
		return errors.New("exactly one of --circle-id or --on-chain-id is required")
	}
	var circleID uuid.UUID
	if *circleIDFlag != "" {
		id, err := uuid.Parse(*circleIDFlag)
		if err != nil {
			return fmt.Errorf("invalid --circle-id: %w", err)
		}
		circleID = id
	}

	if err := deps.loadEnv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := deps.loadCfg()
	deps.initLog(cfg.Server.Env)

	db, err := deps.openDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	ledger := usecases.NewLedgerUsecase(
		repositories.NewUnitOfWork(db),
		repositories.NewCircleRepository(db),
		repositories.NewVaultRepository(db),
		repositories.NewContributorRepository(db),
		repositories.NewWithdrawalRepository(db),
		repositories.NewLedgerEventRepository(db),
		usecases.LedgerOptions{OpTimeout: cfg.Ledger.OpTimeout, ClosurePolicy: cfg.Ledger.ClosurePolicy},
	)

	ctx := context.Background()
	var circle *entities.Circle
	if circleID != uuid.Nil {
		circle, err = ledger.GetCircle(ctx, circleID)
	} else {
		circle, err = ledger.GetCircleByOnChainID(ctx, *onChainIDFlag)
	}
	if err != nil {
		return fmt.Errorf("failed to load circle: %w", err)
	}

	var held int64
	if circle.Vault != nil {
		held = circle.Vault.TotalBalance
	}
	if held > 0 && !*forceFlag {
		return fmt.Errorf("circle %s vault still holds %d, pass --force to delete it", circle.ID, held)
	}

	if err := ledger.DeleteCircle(ctx, circle.ID); err != nil {
		return fmt.Errorf("failed to delete circle: %w", err)
	}

	fmt.Fprintf(deps.out, "Deleted circle %s (%s)\n", circle.ID, circle.Name)
	fmt.Fprintf(deps.out, "Vault balance dropped: %d\n", held)
	return nil
}

func main() {
	if err := runAdmin(os.Args[1:], defaultAdminDeps()); err != nil {
		fatalfFn("circleadmin: %v", err)
	}
}
