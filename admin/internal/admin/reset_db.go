package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// resetTables are emptied in order by ResetDB.
var resetTables = []string{"events", "accounts"}

type ResetDBConfig struct {
	Pool        *pgxpool.Pool
	DryRun      bool
	SkipConfirm bool
	In          io.Reader
	Out         io.Writer
}

func (cfg *ResetDBConfig) Validate() error {
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	if cfg.In == nil {
		return errors.New("input is required")
	}
	if cfg.Out == nil {
		return errors.New("output is required")
	}
	return nil
}

// ResetDB deletes every account and event row. The schema and migration history are kept.
func ResetDB(ctx context.Context, cfg ResetDBConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	out := cfg.Out

	counts := make(map[string]int64, len(resetTables))
	var total int64
	for _, table := range resetTables {
		var n int64
		if err := cfg.Pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&n); err != nil {
			return fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
		total += n
	}

	if total == 0 {
		fmt.Fprintln(out, "No accounts or events found")
		return nil
	}

	fmt.Fprintf(out, "WARNING: This will DELETE all rows from %d table(s):\n\n", len(resetTables))
	for _, table := range resetTables {
		fmt.Fprintf(out, "  - %s (%d rows)\n", table, counts[table])
	}

	if cfg.DryRun {
		fmt.Fprintln(out, "\n[DRY RUN] Would delete the above rows")
		return nil
	}

	if !cfg.SkipConfirm {
		fmt.Fprintf(out, "\nThis is a DESTRUCTIVE operation that cannot be undone!\n")
		fmt.Fprintf(out, "Type 'yes' to confirm: ")

		response, err := bufio.NewReader(cfg.In).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintf(out, "\nConfirmation failed. Operation cancelled.\n")
			return nil
		}
		fmt.Fprintln(out)
	}

	tx, err := cfg.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range resetTables {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
		fmt.Fprintf(out, "  ✓ Reset %s\n", table)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}

	fmt.Fprintf(out, "\nSuccessfully deleted %d row(s)\n", total)
	return nil
}
