package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/gameledger/engine/pkg/authority"
	"github.com/malbeclabs/gameledger/engine/pkg/calc"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/malbeclabs/gameledger/engine/pkg/ledger"
	"github.com/malbeclabs/gameledger/engine/pkg/lockvault"
	"github.com/malbeclabs/gameledger/engine/pkg/match"
	"github.com/malbeclabs/gameledger/engine/pkg/rewardgate"
	"github.com/malbeclabs/gameledger/engine/pkg/stakevault"
	"github.com/malbeclabs/gameledger/engine/pkg/treasury"
)

var (
	ErrUnknownModule  = faults.New(faults.KindNotFound, "UnknownModule", "no such module")
	ErrUnknownSetting = faults.New(faults.KindNotFound, "UnknownSetting", "no such setting")
	ErrInvalidValue   = faults.New(faults.KindInvalidParameter, "InvalidSettingValue", "setting value does not decode")
)

// SettingUpdate changes one field of one module's settings. Value is the JSON encoding of the
// new value.
type SettingUpdate struct {
	Module string          `json:"module"`
	Field  string          `json:"field"`
	Value  json.RawMessage `json:"value"`
}

type setter func(e *Engine, tx host.Tx, d *Deployment, signer authority.Signer, raw json.RawMessage) error

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, ErrInvalidValue.WithDetail("%v", err)
	}
	return v, nil
}

func keySetter(fn func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, next solana.PublicKey) error) setter {
	return func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, raw json.RawMessage) error {
		v, err := decode[solana.PublicKey](raw)
		if err != nil {
			return err
		}
		return fn(e, tx, d, s, v)
	}
}

func valueSetter[T any](fn func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v T) error) setter {
	return func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, raw json.RawMessage) error {
		v, err := decode[T](raw)
		if err != nil {
			return err
		}
		return fn(e, tx, d, s, v)
	}
}

type aprValue struct {
	Start uint8 `json:"start"`
	Step  uint8 `json:"step"`
	Floor uint8 `json:"floor"`
}

type coefficientsValue struct {
	Reward   uint32 `json:"reward"`
	DailyCap uint32 `json:"daily_cap"`
}

var setters = map[string]map[string]setter{
	ledger.ModuleName: {
		"admin": keySetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v solana.PublicKey) error {
			return e.Ledger.UpdateAdmin(tx, d.Ledger, s, v)
		}),
		"update_authority": keySetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v solana.PublicKey) error {
			return e.Ledger.SetUpdateAuthority(tx, d.Ledger, s, v)
		}),
		"burn_period": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v int64) error {
			return e.Ledger.UpdateBurnPeriod(tx, d.Ledger, s, v)
		}),
		"minters": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v authority.AllowList) error {
			return e.Ledger.UpdateMinters(tx, d.Ledger, s, v)
		}),
		"burners": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v authority.AllowList) error {
			return e.Ledger.UpdateBurners(tx, d.Ledger, s, v)
		}),
	},
	lockvault.ModuleName: {
		"admin": keySetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v solana.PublicKey) error {
			return e.LockVault.UpdateAdmin(tx, d.LockVault, s, v)
		}),
		"update_authority": keySetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v solana.PublicKey) error {
			return e.LockVault.SetUpdateAuthority(tx, d.LockVault, s, v)
		}),
		"royalty": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v uint8) error {
			return e.LockVault.UpdateRoyalty(tx, d.LockVault, s, v)
		}),
		"unlock_royalty": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v uint8) error {
			return e.LockVault.UpdateUnlockRoyalty(tx, d.LockVault, s, v)
		}),
		"maturity_period": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v int64) error {
			return e.LockVault.UpdateMaturityPeriod(tx, d.LockVault, s, v)
		}),
		"accrual_period": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v int64) error {
			return e.LockVault.UpdateAccrualPeriod(tx, d.LockVault, s, v)
		}),
		"reward_table": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v calc.RewardTable) error {
			return e.LockVault.UpdateRewardTable(tx, d.LockVault, s, v)
		}),
	},
	stakevault.ModuleName: {
		"admin": keySetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v solana.PublicKey) error {
			return e.StakeVault.UpdateAdmin(tx, d.StakeVault, s, v)
		}),
		"update_authority": keySetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v solana.PublicKey) error {
			return e.StakeVault.SetUpdateAuthority(tx, d.StakeVault, s, v)
		}),
		"epoch_period_days": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v uint32) error {
			return e.StakeVault.UpdateEpochPeriodDays(tx, d.StakeVault, s, v)
		}),
		"min_stake": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v uint64) error {
			return e.StakeVault.UpdateMinStake(tx, d.StakeVault, s, v)
		}),
		"hold_period_days": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v uint32) error {
			return e.StakeVault.UpdateHoldPeriodDays(tx, d.StakeVault, s, v)
		}),
		"hold_royalty": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v uint8) error {
			return e.StakeVault.UpdateHoldRoyalty(tx, d.StakeVault, s, v)
		}),
		"royalty": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v uint8) error {
			return e.StakeVault.UpdateRoyalty(tx, d.StakeVault, s, v)
		}),
		"apr": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v aprValue) error {
			return e.StakeVault.UpdateAPR(tx, d.StakeVault, s, v.Start, v.Step, v.Floor)
		}),
	},
	treasury.ModuleName: {
		"admin": keySetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v solana.PublicKey) error {
			return e.Treasury.UpdateAdmin(tx, d.Treasury, s, v)
		}),
		"update_authority": keySetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v solana.PublicKey) error {
			return e.Treasury.SetUpdateAuthority(tx, d.Treasury, s, v)
		}),
		"shares": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v TreasuryParams) error {
			return e.Treasury.UpdateShares(tx, d.Treasury, s, d.destinations(v))
		}),
	},
	rewardgate.ModuleName: {
		"admin": keySetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v solana.PublicKey) error {
			return e.RewardGate.UpdateAdmin(tx, d.RewardGate, s, v)
		}),
		"update_authority": keySetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v solana.PublicKey) error {
			return e.RewardGate.SetUpdateAuthority(tx, d.RewardGate, s, v)
		}),
		"transfer_auth_list": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v authority.AllowList) error {
			return e.RewardGate.UpdateTransferAuthList(tx, d.RewardGate, s, v)
		}),
	},
	match.ModuleName: {
		"admin": keySetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v solana.PublicKey) error {
			return e.Match.UpdateAdmin(tx, d.Match, s, v)
		}),
		"update_authority": keySetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v solana.PublicKey) error {
			return e.Match.SetUpdateAuthority(tx, d.Match, s, v)
		}),
		"validator": keySetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v solana.PublicKey) error {
			return e.Match.UpdateValidator(tx, d.Match, s, v)
		}),
		"afk_timeout": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v int64) error {
			return e.Match.UpdateAFKTimeout(tx, d.Match, s, v)
		}),
		"royalty": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v uint8) error {
			return e.Match.UpdateRoyalty(tx, d.Match, s, v)
		}),
		"coefficients": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v coefficientsValue) error {
			return e.Match.UpdateRewardCoefficients(tx, d.Match, s, v.Reward, v.DailyCap)
		}),
		"daily_cap": valueSetter(func(e *Engine, tx host.Tx, d *Deployment, s authority.Signer, v uint64) error {
			return e.Match.UpdateDailyCap(tx, d.Match, s, v)
		}),
	},
}

// SettingFields lists the updatable fields of module, sorted.
func SettingFields(module string) []string {
	fields := make([]string, 0, len(setters[module]))
	for f := range setters[module] {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	return fields
}

func (d *Deployment) destinations(p TreasuryParams) []treasury.Destination {
	return []treasury.Destination{
		{Fund: d.PlayToEarnFund, Share: p.PlayToEarnShare},
		{Fund: d.StakeRewardFund, Share: p.StakeRewardShare},
		{Fund: d.CompanyFund, Share: p.CompanyShare},
		{Fund: d.TeamFund, Share: p.TeamShare},
	}
}

// UpdateSetting applies u signed by signer. Whether signer must be the admin or the update
// authority is decided by the module.
func (e *Engine) UpdateSetting(ctx context.Context, d *Deployment, signer solana.PublicKey, u SettingUpdate) (*Result[SettingUpdate], error) {
	fields, ok := setters[u.Module]
	if !ok {
		return nil, ErrUnknownModule.WithDetail("%q", u.Module)
	}
	set, ok := fields[u.Field]
	if !ok {
		return nil, ErrUnknownSetting.WithDetail("%s.%s", u.Module, u.Field)
	}
	return run(ctx, e, u.Module, "update_"+u.Field, signers(signer), func(tx host.Tx) (SettingUpdate, error) {
		return u, set(e, tx, d, authority.User(signer), u.Value)
	})
}

// ModuleSettings returns the current settings of one module.
func (e *Engine) ModuleSettings(ctx context.Context, d *Deployment, module string) (any, error) {
	var out any
	err := e.View(ctx, func(tx host.Tx) error {
		var err error
		switch module {
		case ledger.ModuleName:
			out, err = e.Ledger.Settings(tx, d.Ledger)
		case lockvault.ModuleName:
			out, err = e.LockVault.Settings(tx, d.LockVault)
		case stakevault.ModuleName:
			out, err = e.StakeVault.Settings(tx, d.StakeVault)
		case treasury.ModuleName:
			out, err = e.Treasury.Settings(tx, d.Treasury)
		case rewardgate.ModuleName:
			out, err = e.RewardGate.Settings(tx, d.RewardGate)
		case match.ModuleName:
			out, err = e.Match.Settings(tx, d.Match)
		default:
			err = ErrUnknownModule.WithDetail("%q", module)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s settings: %w", module, err)
	}
	return out, nil
}
