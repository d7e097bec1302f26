package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/metergate/metergate/internal/domain"
	"github.com/metergate/metergate/internal/storage"
)

// userKey identifies the authenticated user in the request context.
type userKey struct{}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userView is the external representation of a user. The password hash never
// leaves the server.
type userView struct {
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserView(u *storage.User) userView {
	return userView{
		Username:  u.Username,
		Email:     u.Email,
		Disabled:  u.Disabled,
		CreatedAt: u.CreatedAt,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *handlers) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}

	user, err := h.identity.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	AddLogField(r.Context(), "user", user.Username)
	writeJSON(w, http.StatusCreated, newUserView(user))
}

// handleToken exchanges form credentials for a session token. Bad credentials
// produce one uniform message regardless of which part failed.
func (h *handlers) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, domain.ErrValidation("invalid form body: %v", err))
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	if !h.identity.VerifyPassword(r.Context(), username, password) {
		writeError(w, r, domain.ErrUnauthorized("incorrect username or password"))
		return
	}

	token, err := h.sessions.Issue(username)
	if err != nil {
		writeError(w, r, err)
		return
	}

	AddLogField(r.Context(), "user", username)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (h *handlers) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, r, domain.ErrUnauthorized("could not validate credentials"))
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

// sessionAuth authenticates the Bearer session token and resolves it to a
// live user record. Missing, invalid, or expired tokens and disabled or
// vanished users all yield the same 401.
func (h *handlers) sessionAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, r, domain.ErrUnauthorized("could not validate credentials"))
			return
		}

		subject, err := h.sessions.Verify(token)
		if err != nil {
			writeError(w, r, err)
			return
		}

		user, err := h.identity.Lookup(r.Context(), subject)
		if err != nil || user.Disabled {
			writeError(w, r, domain.ErrUnauthorized("could not validate credentials"))
			return
		}

		AddLogField(r.Context(), "user", user.Username)
		ctx := context.WithValue(r.Context(), userKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}

func userFromContext(ctx context.Context) (*storage.User, bool) {
	u, ok := ctx.Value(userKey{}).(*storage.User)
	return u, ok
}
