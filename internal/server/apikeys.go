package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/metergate/metergate/internal/apikey"
	"github.com/metergate/metergate/internal/domain"
	"github.com/metergate/metergate/internal/storage"
)

type keyView struct {
	Key        string    `json:"key"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	IsActive   bool      `json:"is_active"`
	UsageCount int       `json:"usage_count"`
	MaxUsage   *int      `json:"max_usage"`
}

func newKeyView(k *storage.AccessKey) keyView {
	return keyView{
		Key:        k.Key,
		ExpiresAt:  k.ExpiresAt,
		CreatedAt:  k.CreatedAt,
		IsActive:   k.IsActive,
		UsageCount: k.UsageCount,
		MaxUsage:   k.MaxUsage,
	}
}

func (h *handlers) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, r, domain.ErrUnauthorized("could not validate credentials"))
		return
	}

	days := apikey.DefaultValidityDays
	if raw := r.URL.Query().Get("days_valid"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, domain.ErrValidation("days_valid must be an integer"))
			return
		}
		days = parsed
	}

	// max_usage=0 means no quota, same as omitting the parameter.
	var maxUsage *int
	if raw := r.URL.Query().Get("max_usage"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, domain.ErrValidation("max_usage must be an integer"))
			return
		}
		if parsed != 0 {
			maxUsage = &parsed
		}
	}

	key, err := h.keys.Create(r.Context(), user.ID, days, maxUsage)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newKeyView(key))
}

func (h *handlers) handleListKeys(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, r, domain.ErrUnauthorized("could not validate credentials"))
		return
	}

	keys, err := h.keys.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	views := make([]keyView, len(keys))
	for i, k := range keys {
		views[i] = newKeyView(k)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, r, domain.ErrUnauthorized("could not validate credentials"))
		return
	}

	key := chi.URLParam(r, "key")
	if err := h.keys.Revoke(r.Context(), key, user.ID); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
