package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/gameledger/engine/pkg/engine"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
)

var ErrInvalidBody = faults.New(faults.KindInvalidParameter, "InvalidRequestBody", "request body does not decode")

type AmountRequest struct {
	Amount uint64 `json:"amount"`
}

type OwnerRequest struct {
	Owner solana.PublicKey `json:"owner"`
}

type OwnerAmountRequest struct {
	Owner  solana.PublicKey `json:"owner"`
	Amount uint64           `json:"amount"`
}

type TransferRequest struct {
	To     solana.PublicKey `json:"to"`
	Amount uint64           `json:"amount"`
}

type SettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// call is one signed entry point: it decodes Req from the body and runs fn with the
// deployment and the verified signers.
type call[Req, T any] func(ctx context.Context, d *engine.Deployment, signers []solana.PublicKey, req Req) (T, error)

func serve[Req, T any](h *Handler, fn call[Req, T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := h.deployment(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		var req Req
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, r, ErrInvalidBody.WithDetail("%v", err))
			return
		}
		out, err := fn(r.Context(), d, SignersFromContext(r.Context()), req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, out)
	}
}

// single adapts an entry point signed by one key.
func single[Req, T any](fn func(ctx context.Context, d *engine.Deployment, signer solana.PublicKey, req Req) (T, error)) call[Req, T] {
	return func(ctx context.Context, d *engine.Deployment, signers []solana.PublicKey, req Req) (T, error) {
		signer, err := signerAt(signers, 0)
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx, d, signer, req)
	}
}

type empty struct{}

func (h *Handler) openTokenAccount(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, owner solana.PublicKey, _ empty) (*engine.Result[engine.TokenAccount], error) {
		return e.OpenTokenAccount(ctx, d, owner)
	}))(w, r)
}

func (h *Handler) mintTokens(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, mintAuthority solana.PublicKey, req OwnerAmountRequest) (*engine.Result[engine.TokenAccount], error) {
		return e.MintTokens(ctx, d, mintAuthority, req.Owner, req.Amount)
	}))(w, r)
}

func (h *Handler) fundAccumulative(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, from solana.PublicKey, req AmountRequest) (*engine.Result[engine.TokenAccount], error) {
		return e.FundAccumulative(ctx, d, from, req.Amount)
	}))(w, r)
}

func (h *Handler) createWallet(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, owner solana.PublicKey, _ empty) (*engine.Result[solana.PublicKey], error) {
		return e.CreateWallet(ctx, d, owner)
	}))(w, r)
}

func (h *Handler) mintCredits(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, minter solana.PublicKey, req OwnerAmountRequest) (*engine.Result[engine.CreditBalance], error) {
		return e.MintCredits(ctx, d, minter, req.Owner, req.Amount)
	}))(w, r)
}

func (h *Handler) burnCredits(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, burner solana.PublicKey, req OwnerAmountRequest) (*engine.Result[engine.CreditBalance], error) {
		return e.BurnCredits(ctx, d, burner, req.Owner, req.Amount)
	}))(w, r)
}

func (h *Handler) sweepExpired(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, caller solana.PublicKey, req OwnerRequest) (*engine.Result[engine.Expiry], error) {
		return e.SweepExpired(ctx, d, caller, req.Owner)
	}))(w, r)
}

func (h *Handler) lock(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, owner solana.PublicKey, req AmountRequest) (any, error) {
		return e.Lock(ctx, d, owner, req.Amount)
	}))(w, r)
}

func (h *Handler) collectAccrued(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, owner solana.PublicKey, _ empty) (any, error) {
		return e.CollectAccrued(ctx, d, owner)
	}))(w, r)
}

func (h *Handler) unlock(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, owner solana.PublicKey, _ empty) (any, error) {
		return e.Unlock(ctx, d, owner)
	}))(w, r)
}

func (h *Handler) stake(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, owner solana.PublicKey, req AmountRequest) (any, error) {
		return e.Stake(ctx, d, owner, req.Amount)
	}))(w, r)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, owner solana.PublicKey, _ empty) (any, error) {
		return e.Withdraw(ctx, d, owner)
	}))(w, r)
}

func (h *Handler) distribute(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, caller solana.PublicKey, _ empty) (any, error) {
		return e.Distribute(ctx, d, caller)
	}))(w, r)
}

func (h *Handler) gateTransfer(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, caller solana.PublicKey, req TransferRequest) (any, error) {
		return e.GateTransfer(ctx, d, caller, req.To, req.Amount)
	}))(w, r)
}

func (h *Handler) startMatch(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, single(func(ctx context.Context, d *engine.Deployment, owner solana.PublicKey, _ empty) (any, error) {
		return e.StartMatch(ctx, d, owner)
	}))(w, r)
}

// finalizeMatch expects the validator as the first signer and the player as the second.
func (h *Handler) finalizeMatch(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	serve(h, func(ctx context.Context, d *engine.Deployment, signers []solana.PublicKey, req engine.FinalizeRequest) (any, error) {
		validator, err := signerAt(signers, 0)
		if err != nil {
			return nil, err
		}
		owner, err := signerAt(signers, 1)
		if err != nil {
			return nil, err
		}
		return e.FinalizeMatch(ctx, d, validator, owner, req)
	})(w, r)
}

func (h *Handler) updateSetting(w http.ResponseWriter, r *http.Request) {
	e := h.cfg.Engine
	module, field := chi.URLParam(r, "module"), chi.URLParam(r, "field")
	serve(h, single(func(ctx context.Context, d *engine.Deployment, signer solana.PublicKey, req SettingRequest) (any, error) {
		return e.UpdateSetting(ctx, d, signer, engine.SettingUpdate{Module: module, Field: field, Value: req.Value})
	}))(w, r)
}
