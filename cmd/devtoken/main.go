package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"circlesave.backend/internal/config"
	"circlesave.backend/pkg/jwt"
)

// devtoken signs a bearer token with the server's JWT settings so the API
// can be exercised locally without the identity service.

type devTokenDeps struct {
	loadEnv func() error
	loadCfg func() *config.Config
	newID   func() uuid.UUID
	out     io.Writer
}

var fatalfFn = log.Fatalf

func defaultDevTokenDeps() devTokenDeps {
	return devTokenDeps{
		loadEnv: func() error { return godotenv.Load() },
		loadCfg: config.Load,
		newID:   uuid.New,
		out:     os.Stdout,
	}
}

func resolveUserID(input string, newID func() uuid.UUID) (uuid.UUID, error) {
	if input == "" {
		return newID(), nil
	}
	id, err := uuid.Parse(input)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --user-id: %w", err)
	}
	return id, nil
}

func runDevToken(args []string, deps devTokenDeps) error {
	def := defaultDevTokenDeps()
	if deps.loadEnv == nil {
		deps.loadEnv = def.loadEnv
	}
	if deps.loadCfg == nil {
		deps.loadCfg = def.loadCfg
	}
	if deps.newID == nil {
		deps.newID = def.newID
	}
	if deps.out == nil {
		deps.out = def.out
	}

	fs := flag.NewFlagSet("devtoken", flag.ContinueOnError)
	userIDFlag := fs.String("user-id", "", "user UUID (a new one is generated when empty)")
	usernameFlag := fs.String("username", "dev", "username claim")
	expiryFlag := fs.Duration("expiry", 0, "token lifetime (defaults to JWT_EXPIRY)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := resolveUserID(*userIDFlag, deps.newID)
	if err != nil {
		return err
	}

	if err := deps.loadEnv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := deps.loadCfg()

	expiry := cfg.JWT.Expiry
	if *expiryFlag > 0 {
		expiry = *expiryFlag
	}
	if expiry <= 0 {
		expiry = time.Hour
	}

	token, err := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, expiry).GenerateToken(userID, *usernameFlag)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	fmt.Fprintf(deps.out, "User ID:  %s\n", userID)
	fmt.Fprintf(deps.out, "Username: %s\n", *usernameFlag)
	fmt.Fprintf(deps.out, "Expires:  %s\n", expiry)
	fmt.Fprintf(deps.out, "Token:    %s\n", token)
	return nil
}

func main() {
	if err := runDevToken(os.Args[1:], defaultDevTokenDeps()); err != nil {
		fatalfFn("devtoken: %v", err)
	}
}
