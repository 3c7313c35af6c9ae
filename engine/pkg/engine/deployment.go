package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
	"github.com/malbeclabs/gameledger/engine/pkg/calc"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/malbeclabs/gameledger/engine/pkg/ledger"
	"github.com/malbeclabs/gameledger/engine/pkg/lockvault"
	"github.com/malbeclabs/gameledger/engine/pkg/match"
	"github.com/malbeclabs/gameledger/engine/pkg/rewardgate"
	"github.com/malbeclabs/gameledger/engine/pkg/stakevault"
	"github.com/malbeclabs/gameledger/engine/pkg/token"
	"github.com/malbeclabs/gameledger/engine/pkg/treasury"
)

const (
	ModuleName     = "engine"
	KindDeployment = "engine.deployment"

	DeploymentSeed   = "deployment"
	TokenAccountSeed = "token_account"
)

var program = authority.MustRegister(ModuleName)

var ProgramID = program.ID()

// Deployment names every account of one fully wired installation.
type Deployment struct {
	Name            string           `json:"name"`
	Admin           solana.PublicKey `json:"admin"`
	UpdateAuthority solana.PublicKey `json:"update_authority"`
	Mint            solana.PublicKey `json:"mint"`

	Ledger     solana.PublicKey `json:"ledger"`
	LockVault  solana.PublicKey `json:"lockvault"`
	StakeVault solana.PublicKey `json:"stakevault"`
	Treasury   solana.PublicKey `json:"treasury"`
	RewardGate solana.PublicKey `json:"rewardgate"`
	Match      solana.PublicKey `json:"match"`

	AccumulativeFund solana.PublicKey `json:"accumulative_fund"`
	LockTreasury     solana.PublicKey `json:"lock_treasury"`
	StakeTreasury    solana.PublicKey `json:"stake_treasury"`
	StakeRewardFund  solana.PublicKey `json:"stake_reward_fund"`
	PlayToEarnFund   solana.PublicKey `json:"play_to_earn_fund"`
	CompanyFund      solana.PublicKey `json:"company_fund"`
	TeamFund         solana.PublicKey `json:"team_fund"`
}

func DeploymentAddress(name string) (solana.PublicKey, error) {
	key, _, err := authority.FindAddress(ProgramID, authority.Label(DeploymentSeed), authority.Label(name))
	return key, err
}

// deploymentKey derives the key of one named account of a deployment.
func deploymentKey(name, role string) (solana.PublicKey, error) {
	key, _, err := authority.FindAddress(ProgramID, authority.Label(DeploymentSeed), authority.Label(name), authority.Label(role))
	return key, err
}

// TokenAccountAddress is the canonical token account of owner for the deployment's mint.
func (d *Deployment) TokenAccountAddress(owner solana.PublicKey) (solana.PublicKey, error) {
	key, _, err := authority.FindAddress(ProgramID, authority.Label(TokenAccountSeed), authority.KeySeed(d.Mint), authority.KeySeed(owner))
	return key, err
}

type LedgerParams struct {
	BurnPeriod int64 `json:"burn_period"`
}

type LockVaultParams struct {
	Royalty        uint8            `json:"royalty"`
	UnlockRoyalty  uint8            `json:"unlock_royalty"`
	MaturityPeriod int64            `json:"maturity_period"`
	AccrualPeriod  int64            `json:"accrual_period"`
	RewardTable    calc.RewardTable `json:"reward_table"`
}

type StakeVaultParams struct {
	EpochPeriodDays uint32 `json:"epoch_period_days"`
	MinStake        uint64 `json:"min_stake"`
	HoldPeriodDays  uint32 `json:"hold_period_days"`
	HoldRoyalty     uint8  `json:"hold_royalty"`
	Royalty         uint8  `json:"royalty"`
	APRStart        uint8  `json:"apr_start"`
	APRStep         uint8  `json:"apr_step"`
	APRFloor        uint8  `json:"apr_floor"`
}

// TreasuryParams are the shares of the play-to-earn, stake reward, company and team funds.
type TreasuryParams struct {
	PlayToEarnShare  uint8 `json:"play_to_earn_share"`
	StakeRewardShare uint8 `json:"stake_reward_share"`
	CompanyShare     uint8 `json:"company_share"`
	TeamShare        uint8 `json:"team_share"`
}

type MatchParams struct {
	AFKTimeout          int64  `json:"afk_timeout"`
	Royalty             uint8  `json:"royalty"`
	RewardCoefficient   uint32 `json:"reward_coefficient"`
	DailyCap            uint64 `json:"daily_cap"`
	DailyCapCoefficient uint32 `json:"daily_cap_coefficient"`
}

type BootstrapParams struct {
	Name            string           `json:"name"`
	Admin           solana.PublicKey `json:"admin"`
	UpdateAuthority solana.PublicKey `json:"update_authority"`
	Validator       solana.PublicKey `json:"validator"`
	CompanyOwner    solana.PublicKey `json:"company_owner"`
	TeamOwner       solana.PublicKey `json:"team_owner"`
	Decimals        uint8            `json:"decimals"`

	Ledger     LedgerParams     `json:"ledger"`
	LockVault  LockVaultParams  `json:"lockvault"`
	StakeVault StakeVaultParams `json:"stakevault"`
	Treasury   TreasuryParams   `json:"treasury"`
	Match      MatchParams      `json:"match"`
}

// DefaultBootstrapParams returns a complete parameter set; identities are left empty.
func DefaultBootstrapParams(name string) BootstrapParams {
	const day = calc.SecondsPerDay
	return BootstrapParams{
		Name:     name,
		Decimals: 9,
		Ledger:   LedgerParams{BurnPeriod: 30 * day},
		LockVault: LockVaultParams{
			Royalty:        8,
			UnlockRoyalty:  15,
			MaturityPeriod: 15 * day,
			AccrualPeriod:  day,
			RewardTable: calc.RewardTable{
				{Threshold: 1000, Reward: 5},
				{Threshold: 2000, Reward: 10},
				{Threshold: 3000, Reward: 15},
			},
		},
		StakeVault: StakeVaultParams{
			EpochPeriodDays: 45,
			MinStake:        3000,
			HoldPeriodDays:  30,
			HoldRoyalty:     15,
			Royalty:         8,
			APRStart:        45,
			APRStep:         1,
			APRFloor:        5,
		},
		Treasury: TreasuryParams{PlayToEarnShare: 45, StakeRewardShare: 40, CompanyShare: 5, TeamShare: 10},
		Match: MatchParams{
			AFKTimeout:          3600,
			Royalty:             8,
			RewardCoefficient:   20,
			DailyCap:            15000,
			DailyCapCoefficient: 100,
		},
	}
}

func (p *BootstrapParams) fill() {
	if p.UpdateAuthority.IsZero() {
		p.UpdateAuthority = p.Admin
	}
	if p.Validator.IsZero() {
		p.Validator = p.Admin
	}
	if p.CompanyOwner.IsZero() {
		p.CompanyOwner = p.Admin
	}
	if p.TeamOwner.IsZero() {
		p.TeamOwner = p.Admin
	}
}

func newDeployment(p BootstrapParams) (*Deployment, error) {
	d := &Deployment{Name: p.Name, Admin: p.Admin, UpdateAuthority: p.UpdateAuthority}
	for role, dst := range map[string]*solana.PublicKey{
		"mint":              &d.Mint,
		"ledger":            &d.Ledger,
		"lockvault":         &d.LockVault,
		"stakevault":        &d.StakeVault,
		"treasury":          &d.Treasury,
		"rewardgate":        &d.RewardGate,
		"match":             &d.Match,
		"accumulative_fund": &d.AccumulativeFund,
		"lock_treasury":     &d.LockTreasury,
		"stake_treasury":    &d.StakeTreasury,
		"stake_reward_fund": &d.StakeRewardFund,
		"play_to_earn_fund": &d.PlayToEarnFund,
		"company_fund":      &d.CompanyFund,
		"team_fund":         &d.TeamFund,
	} {
		key, err := deploymentKey(p.Name, role)
		if err != nil {
			return nil, err
		}
		*dst = key
	}
	return d, nil
}

// Bootstrap creates a full deployment in one transaction signed by the admin: the base token
// mint, every fund handed to its derived owner, every module's settings and the ledger and gate
// allow-lists that let the vaults and the match session act on each other.
func (e *Engine) Bootstrap(ctx context.Context, p BootstrapParams) (*Deployment, error) {
	if p.Name == "" {
		return nil, errors.New("deployment name is required")
	}
	if p.Admin.IsZero() {
		return nil, errors.New("admin is required")
	}
	p.fill()
	d, err := newDeployment(p)
	if err != nil {
		return nil, fmt.Errorf("failed to derive deployment keys: %w", err)
	}

	_, err = e.Execute(ctx, ModuleName, "bootstrap", []solana.PublicKey{p.Admin}, func(tx host.Tx) error {
		return e.bootstrap(tx, d, p)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("engine: deployment bootstrapped", "name", d.Name, "mint", d.Mint)
	return d, nil
}

func (e *Engine) bootstrap(tx host.Tx, d *Deployment, p BootstrapParams) error {
	admin := authority.User(p.Admin)

	lockMintAuth, _, err := lockvault.MintAuthority(d.LockVault, d.Ledger)
	if err != nil {
		return err
	}
	lockTreasuryAuth, _, err := lockvault.TreasuryAuthority(d.LockVault)
	if err != nil {
		return err
	}
	stakeTreasuryAuth, _, err := stakevault.TreasuryAuthority(d.StakeVault)
	if err != nil {
		return err
	}
	stakeFundAuth, _, err := stakevault.RewardFundAuthority(d.StakeVault)
	if err != nil {
		return err
	}
	sourceAuth, _, err := treasury.SourceAuthority(d.Treasury)
	if err != nil {
		return err
	}
	gateFundAuth, _, err := rewardgate.FundAuthority(d.RewardGate)
	if err != nil {
		return err
	}
	burnAuth, _, err := match.BurnAuthority(d.Match, d.Ledger)
	if err != nil {
		return err
	}
	rewardAuth, _, err := match.RewardAuthority(d.Match, d.RewardGate)
	if err != nil {
		return err
	}

	if err := token.CreateMint(tx, d.Mint, p.Admin, p.Decimals); err != nil {
		return fmt.Errorf("failed to create mint: %w", err)
	}
	for _, acct := range []struct {
		key, owner solana.PublicKey
	}{
		{d.AccumulativeFund, sourceAuth},
		{d.LockTreasury, lockTreasuryAuth},
		{d.StakeTreasury, stakeTreasuryAuth},
		{d.StakeRewardFund, stakeFundAuth},
		{d.PlayToEarnFund, gateFundAuth},
		{d.CompanyFund, p.CompanyOwner},
		{d.TeamFund, p.TeamOwner},
	} {
		if err := token.CreateAccount(tx, acct.key, d.Mint, acct.owner); err != nil {
			return fmt.Errorf("failed to create fund %s: %w", acct.key, err)
		}
	}

	if err := e.Ledger.Initialize(tx, d.Ledger, admin, ledger.InitParams{
		Admin:           p.Admin,
		UpdateAuthority: p.UpdateAuthority,
		BurnPeriod:      p.Ledger.BurnPeriod,
		Minters:         authority.AllowList{lockMintAuth},
		Burners:         authority.AllowList{burnAuth},
	}); err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}
	if err := e.RewardGate.Initialize(tx, d.RewardGate, admin, rewardgate.InitParams{
		Admin:            p.Admin,
		UpdateAuthority:  p.UpdateAuthority,
		Mint:             d.Mint,
		Fund:             d.PlayToEarnFund,
		TransferAuthList: authority.AllowList{rewardAuth},
	}); err != nil {
		return fmt.Errorf("failed to initialize reward gate: %w", err)
	}
	if err := e.LockVault.Initialize(tx, d.LockVault, admin, lockvault.InitParams{
		Admin:            p.Admin,
		UpdateAuthority:  p.UpdateAuthority,
		Mint:             d.Mint,
		LedgerSettings:   d.Ledger,
		AccumulativeFund: d.AccumulativeFund,
		Treasury:         d.LockTreasury,
		Royalty:          p.LockVault.Royalty,
		UnlockRoyalty:    p.LockVault.UnlockRoyalty,
		MaturityPeriod:   p.LockVault.MaturityPeriod,
		AccrualPeriod:    p.LockVault.AccrualPeriod,
		RewardTable:      p.LockVault.RewardTable,
	}); err != nil {
		return fmt.Errorf("failed to initialize lock vault: %w", err)
	}
	if err := e.StakeVault.Initialize(tx, d.StakeVault, admin, stakevault.InitParams{
		Admin:            p.Admin,
		UpdateAuthority:  p.UpdateAuthority,
		Mint:             d.Mint,
		AccumulativeFund: d.AccumulativeFund,
		Treasury:         d.StakeTreasury,
		RewardFund:       d.StakeRewardFund,
		EpochPeriodDays:  p.StakeVault.EpochPeriodDays,
		MinStake:         p.StakeVault.MinStake,
		HoldPeriodDays:   p.StakeVault.HoldPeriodDays,
		HoldRoyalty:      p.StakeVault.HoldRoyalty,
		Royalty:          p.StakeVault.Royalty,
		APRStart:         p.StakeVault.APRStart,
		APRStep:          p.StakeVault.APRStep,
		APRFloor:         p.StakeVault.APRFloor,
	}); err != nil {
		return fmt.Errorf("failed to initialize stake vault: %w", err)
	}
	if err := e.Treasury.Initialize(tx, d.Treasury, admin, treasury.InitParams{
		Admin:           p.Admin,
		UpdateAuthority: p.UpdateAuthority,
		Mint:            d.Mint,
		Source:          d.AccumulativeFund,
		Destinations:    d.destinations(p.Treasury),
	}); err != nil {
		return fmt.Errorf("failed to initialize treasury: %w", err)
	}
	if err := e.Match.Initialize(tx, d.Match, admin, match.InitParams{
		Admin:               p.Admin,
		UpdateAuthority:     p.UpdateAuthority,
		Validator:           p.Validator,
		LedgerSettings:      d.Ledger,
		LockVaultSettings:   d.LockVault,
		RewardGateSettings:  d.RewardGate,
		AccumulativeFund:    d.AccumulativeFund,
		AFKTimeout:          p.Match.AFKTimeout,
		Royalty:             p.Match.Royalty,
		RewardCoefficient:   p.Match.RewardCoefficient,
		DailyCap:            p.Match.DailyCap,
		DailyCapCoefficient: p.Match.DailyCapCoefficient,
	}); err != nil {
		return fmt.Errorf("failed to initialize match: %w", err)
	}

	key, err := DeploymentAddress(d.Name)
	if err != nil {
		return err
	}
	if err := host.Init(tx, key, KindDeployment, ProgramID, d); err != nil {
		return fmt.Errorf("failed to record deployment: %w", err)
	}
	tx.Emit(ModuleName, "bootstrapped", map[string]any{"name": d.Name, "mint": d.Mint.String()})
	return nil
}

// LoadDeployment reads a deployment recorded by Bootstrap.
func (e *Engine) LoadDeployment(ctx context.Context, name string) (*Deployment, error) {
	key, err := DeploymentAddress(name)
	if err != nil {
		return nil, err
	}
	var d *Deployment
	err = e.View(ctx, func(tx host.Tx) error {
		d, err = host.Load[Deployment](tx, key, KindDeployment)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}
