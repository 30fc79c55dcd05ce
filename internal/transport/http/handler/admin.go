package handler

import (
	"context"
	"net/http"

	"github.com/deadlock-vault/internal/application/deadman"
)

// Sweeper runs one deadman sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (deadman.Result, error)
}

// AdminHandler exposes operator actions.
type AdminHandler struct {
	evaluator Sweeper
}

func NewAdminHandler(e Sweeper) *AdminHandler { return &AdminHandler{evaluator: e} }

// EvaluateDeadman runs one sweep synchronously and returns its summary.
func (h *AdminHandler) EvaluateDeadman(w http.ResponseWriter, r *http.Request) {
	res, err := h.evaluator.Sweep(r.Context())
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
