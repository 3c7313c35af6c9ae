package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/gameledger/engine/pkg/engine"
	"github.com/malbeclabs/gameledger/engine/pkg/host/pghost"
)

type BootstrapConfig struct {
	Pool *pgxpool.Pool
	Name string
	// Admin signs the bootstrap and becomes every unset role.
	Admin solana.PublicKey
	// ParamsFile optionally holds a JSON BootstrapParams overriding the defaults.
	ParamsFile string
	DryRun     bool
	Out        io.Writer
}

func (cfg *BootstrapConfig) Validate() error {
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	if cfg.Name == "" {
		return errors.New("deployment name is required")
	}
	if cfg.Admin.IsZero() {
		return errors.New("admin is required")
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return nil
}

// LoadBootstrapParams returns the default parameters for name, overlaid with the JSON file at path when set.
func LoadBootstrapParams(name, path string) (engine.BootstrapParams, error) {
	params := engine.DefaultBootstrapParams(name)
	if path == "" {
		return params, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return params, fmt.Errorf("failed to read params file: %w", err)
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("failed to parse params file: %w", err)
	}
	params.Name = name
	return params, nil
}

// Bootstrap creates a deployment on the postgres host and prints its account keys.
func Bootstrap(ctx context.Context, log *slog.Logger, cfg BootstrapConfig) (*engine.Deployment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	params, err := LoadBootstrapParams(cfg.Name, cfg.ParamsFile)
	if err != nil {
		return nil, err
	}
	params.Admin = cfg.Admin

	if cfg.DryRun {
		fmt.Fprintln(cfg.Out, "[DRY RUN] Would bootstrap deployment with params:")
		return nil, writeJSON(cfg.Out, params)
	}

	h, err := pghost.New(pghost.Config{Logger: log, Pool: cfg.Pool})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres host: %w", err)
	}
	eng, err := engine.New(engine.Config{Logger: log, Host: h})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	d, err := eng.Bootstrap(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap deployment %q: %w", cfg.Name, err)
	}
	fmt.Fprintf(cfg.Out, "Bootstrapped deployment %q:\n", d.Name)
	return d, writeJSON(cfg.Out, d)
}

// ShowDeployment prints the account keys of an existing deployment.
func ShowDeployment(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool, name string, out io.Writer) error {
	h, err := pghost.New(pghost.Config{Logger: log, Pool: pool})
	if err != nil {
		return fmt.Errorf("failed to create postgres host: %w", err)
	}
	eng, err := engine.New(engine.Config{Logger: log, Host: h})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	d, err := eng.LoadDeployment(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load deployment %q: %w", name, err)
	}
	return writeJSON(out, d)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
