package handler

import (
	"net/http"

	"github.com/deadlock-vault/internal/application/vault"
	"github.com/deadlock-vault/internal/domain"
	"github.com/deadlock-vault/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
)

// VaultHandler serves the owner's /vault/me routes.
type VaultHandler struct {
	svc vault.Service
}

func NewVaultHandler(svc vault.Service) *VaultHandler { return &VaultHandler{svc: svc} }

func ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok || claims.UserID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return claims.UserID, true
}

func (h *VaultHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Get(r.Context(), owner)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VaultHandler) Save(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	var in domain.VaultInput
	if !decodeJSON(w, r, &in) {
		return
	}
	v, err := h.svc.CreateOrUpdate(r.Context(), owner, in)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VaultHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.Dashboard(r.Context(), owner)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *VaultHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	v, err := h.svc.CheckIn(r.Context(), owner)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VaultHandler) RequestUnlock(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	var in domain.UnlockRequestInput
	if r.ContentLength != 0 && !decodeJSON(w, r, &in) {
		return
	}
	res, err := h.svc.RequestUnlock(r.Context(), owner, in)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *VaultHandler) StoreShares(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	var in domain.StoreSharesInput
	if !decodeJSON(w, r, &in) {
		return
	}
	v, err := h.svc.StoreShares(r.Context(), owner, in)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VaultHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	var in domain.UploadFileInput
	if !decodeJSON(w, r, &in) {
		return
	}
	f, err := h.svc.UploadFile(r.Context(), owner, in)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *VaultHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	files, err := h.svc.ListFiles(r.Context(), owner)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FilesEnvelope{Files: files})
}

func (h *VaultHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	f, data, err := h.svc.DownloadFile(r.Context(), owner, chi.URLParam(r, "fileID"))
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeFile(w, f, data)
}

func (h *VaultHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteFile(r.Context(), owner, chi.URLParam(r, "fileID")); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "deleted"})
}
