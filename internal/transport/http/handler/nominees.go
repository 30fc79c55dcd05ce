package handler

import (
	"net/http"

	"github.com/deadlock-vault/internal/application/nominee"
	"github.com/deadlock-vault/internal/domain"
	"github.com/go-chi/chi/v5"
)

// NomineeHandler serves the unauthenticated nominee routes. Nominees prove
// themselves with their email and share on every call.
type NomineeHandler struct {
	svc nominee.Service
}

func NewNomineeHandler(svc nominee.Service) *NomineeHandler { return &NomineeHandler{svc: svc} }

// nomineeCredentials reads the nominee email and share from the query, or
// from the X-Nominee-Email and X-Nominee-Share headers.
func nomineeCredentials(r *http.Request) (email, share string) {
	q := r.URL.Query()
	email, share = q.Get("nominee"), q.Get("share")
	if email == "" {
		email = r.Header.Get("X-Nominee-Email")
	}
	if share == "" {
		share = r.Header.Get("X-Nominee-Share")
	}
	return email, share
}

func (h *NomineeHandler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := h.svc.Checkpoint(r.Context(), chi.URLParam(r, "vaultID"))
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (h *NomineeHandler) Approvals(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Approvals(r.Context(), chi.URLParam(r, "vaultID"))
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *NomineeHandler) SubmitShare(w http.ResponseWriter, r *http.Request) {
	var in domain.SubmitShareInput
	if !decodeJSON(w, r, &in) {
		return
	}
	cp, err := h.svc.SubmitShare(r.Context(), chi.URLParam(r, "vaultID"), in)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (h *NomineeHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	email, share := nomineeCredentials(r)
	files, err := h.svc.ListFiles(r.Context(), chi.URLParam(r, "vaultID"), email, share)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FilesEnvelope{Files: files})
}

func (h *NomineeHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	email, share := nomineeCredentials(r)
	f, data, err := h.svc.DownloadFile(r.Context(), chi.URLParam(r, "vaultID"), chi.URLParam(r, "fileID"), email, share)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeFile(w, f, data)
}
