package handlers

import (
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
)

var ErrInvalidPath = faults.New(faults.KindInvalidParameter, "InvalidPathParameter", "path parameter is invalid")

func ownerParam(r *http.Request) (solana.PublicKey, error) {
	raw := chi.URLParam(r, "owner")
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, ErrInvalidPath.WithDetail("owner %q", raw)
	}
	return pk, nil
}

func (h *Handler) getDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := h.deployment(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handler) getFunds(w http.ResponseWriter, r *http.Request) {
	d, err := h.deployment(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	funds, err := h.cfg.Engine.Funds(r.Context(), d)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, funds)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	d, err := h.deployment(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.cfg.Engine.ModuleSettings(r.Context(), d, chi.URLParam(r, "module"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	d, err := h.deployment(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	owner, err := ownerParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ov, err := h.cfg.Engine.Overview(r.Context(), d, owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ov)
}

func (h *Handler) getGame(w http.ResponseWriter, r *http.Request) {
	d, err := h.deployment(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	owner, err := ownerParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, r, ErrInvalidPath.WithDetail("game id %q", chi.URLParam(r, "id")))
		return
	}
	g, err := h.cfg.Engine.Game(r.Context(), d, owner, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, g)
}
