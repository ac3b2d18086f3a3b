package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/deptkpi/kpi/internal/auth"
	"github.com/deptkpi/kpi/internal/db"
	"github.com/deptkpi/kpi/internal/repo"
	"github.com/deptkpi/kpi/internal/util"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	ctx := context.Background()

	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	if dsn == "" {
		log.Fatal().Msg("DB_DSN is required")
	}
	attempts, err := strconv.Atoi(strings.TrimSpace(os.Getenv("DB_CONNECT_ATTEMPTS")))
	if err != nil || attempts < 1 {
		attempts = 5
	}

	pool, err := db.NewPool(ctx, dsn, attempts)
	if err != nil {
		log.Fatal().Err(err).Msg("could not connect to database")
	}
	defer pool.Close()

	queries := repo.New(pool)

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "migrate":
		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
	case "create-admin":
		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		if err := runCreateAdmin(ctx, queries, args); err != nil {
			log.Fatal().Err(err).Msg("could not create admin")
		}
	case "list-users":
		if err := runListUsers(ctx, queries); err != nil {
			log.Fatal().Err(err).Msg("could not list users")
		}
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "kpictl")
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  kpictl migrate")
	fmt.Fprintln(os.Stderr, "  kpictl create-admin --name \"Admin\" --email admin@example.ac.th --password <secret>")
	fmt.Fprintln(os.Stderr, "  kpictl list-users")
}

func runCreateAdmin(ctx context.Context, queries *repo.Queries, args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		name     = fs.String("name", "", "display name")
		email    = fs.String("email", "", "sign-in email")
		password = fs.String("password", "", "initial password (at least 8 characters)")
	)

	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*name) == "" || *email == "" || *password == "" {
		return errors.New("name, email and password are required")
	}
	if err := util.ValidateEmail(*email); err != nil {
		return errors.New("invalid email")
	}
	if err := util.ValidatePassword(*password); err != nil {
		return errors.New("password must be at least 8 characters")
	}

	roleID, err := queries.EnsureRole(ctx, auth.AccessAdmin.Label(), auth.AccessAdmin.String())
	if err != nil {
		return fmt.Errorf("ensure role: %w", err)
	}

	hash, err := auth.Hash(*password)
	if err != nil {
		return err
	}

	id, err := queries.CreateUser(ctx, repo.CreateUserParams{
		Name:         strings.TrimSpace(*name),
		Email:        *email,
		PasswordHash: hash,
		RoleID:       roleID,
	})
	if errors.Is(err, repo.ErrConflict) {
		return errors.New("a user with this email already exists")
	}
	if err != nil {
		return err
	}

	log.Info().Str("user_id", id.String()).Str("email", *email).Msg("admin created")
	return nil
}

func runListUsers(ctx context.Context, queries *repo.Queries) error {
	users, err := queries.ListUsers(ctx)
	if err != nil {
		return err
	}

	if len(users) == 0 {
		fmt.Println("no users yet")
		return nil
	}

	encoded, _ := json.MarshalIndent(users, "", "  ")
	fmt.Println(string(encoded))
	return nil
}
