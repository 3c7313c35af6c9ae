package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/gameledger/admin/internal/admin"
	"github.com/malbeclabs/gameledger/api/config"
	"github.com/malbeclabs/gameledger/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// Commands
	pgMigrateFlag := flag.Bool("pg-migrate", false, "Run PostgreSQL migrations using goose")
	pgMigrateDownFlag := flag.Bool("pg-migrate-down", false, "Roll back the last PostgreSQL migration")
	pgMigrateStatusFlag := flag.Bool("pg-migrate-status", false, "Show PostgreSQL migration status")
	resetDBFlag := flag.Bool("reset-db", false, "Delete all accounts and events")
	bootstrapFlag := flag.String("bootstrap", "", "Bootstrap a deployment with this name")
	showFlag := flag.String("show", "", "Print the account keys of the named deployment")

	// Options
	adminFlag := flag.String("admin", "", "Base58 admin key for --bootstrap")
	paramsFlag := flag.String("params", "", "JSON file overriding the default bootstrap parameters")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	flag.Parse()

	_ = godotenv.Load()

	log := logger.New(*verboseFlag)
	ctx := context.Background()

	pgCfg, err := config.PostgresFromEnv()
	if err != nil {
		return err
	}

	switch {
	case *pgMigrateFlag:
		return admin.PgMigrateUp(ctx, log, pgCfg)
	case *pgMigrateDownFlag:
		return admin.PgMigrateDown(ctx, log, pgCfg)
	case *pgMigrateStatusFlag:
		return admin.PgMigrateStatus(ctx, log, pgCfg)
	}

	if !*resetDBFlag && *bootstrapFlag == "" && *showFlag == "" {
		flag.Usage()
		return nil
	}

	pool, err := config.OpenPostgres(ctx, log, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	switch {
	case *resetDBFlag:
		return admin.ResetDB(ctx, admin.ResetDBConfig{
			Pool:        pool,
			DryRun:      *dryRunFlag,
			SkipConfirm: *yesFlag,
			In:          os.Stdin,
			Out:         os.Stdout,
		})
	case *bootstrapFlag != "":
		if *adminFlag == "" {
			return errors.New("--admin is required for --bootstrap")
		}
		adminKey, err := solana.PublicKeyFromBase58(*adminFlag)
		if err != nil {
			return fmt.Errorf("invalid --admin: %w", err)
		}
		_, err = admin.Bootstrap(ctx, log, admin.BootstrapConfig{
			Pool:       pool,
			Name:       *bootstrapFlag,
			Admin:      adminKey,
			ParamsFile: *paramsFlag,
			DryRun:     *dryRunFlag,
			Out:        os.Stdout,
		})
		return err
	default:
		return admin.ShowDeployment(ctx, log, pool, *showFlag, os.Stdout)
	}
}
