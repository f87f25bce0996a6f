package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/raterudder/honorarium/pkg/log"
	"github.com/raterudder/honorarium/pkg/types"
)

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		admin, ok := s.sessionAdmin(r)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "unauthenticated admin request")
			s.clearCookie(w)
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("admin", admin.Name())))
		ctx = context.WithValue(ctx, adminContextKey, admin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionAdmin returns the admin attached to the request's session cookie.
func (s *Server) sessionAdmin(r *http.Request) (types.Admin, bool) {
	ctx := r.Context()
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return types.Admin{}, false
	}
	admin, err := s.decodeSession(ctx, cookie.Value, s.now())
	if err != nil {
		if errors.Is(err, errSessionExpired) {
			log.Ctx(ctx).DebugContext(ctx, "admin session expired")
		} else {
			log.Ctx(ctx).WarnContext(ctx, "invalid admin session", slog.Any("error", err))
		}
		return types.Admin{}, false
	}
	return admin, true
}

func (s *Server) getAdmin(r *http.Request) types.Admin {
	admin, _ := r.Context().Value(adminContextKey).(types.Admin)
	return admin
}

type loginRequest struct {
	Secret string `json:"secret"`
	Token  string `json:"token"`
	Client string `json:"client"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// since we failed to read, don't return JSON error
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	var admin types.Admin
	switch {
	case req.Secret != "":
		if !s.checkSecret(req.Secret) {
			log.Ctx(ctx).WarnContext(ctx, "invalid admin secret")
			writeJSONError(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
	case req.Token != "":
		claims, err := s.authenticateToken(ctx, req.Token, req.Client)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to validate id token", slog.Any("error", err))
			writeJSONError(w, "invalid id token", http.StatusUnauthorized)
			return
		}
		if claims.Email == "" {
			log.Ctx(ctx).WarnContext(ctx, "invalid email in id token")
			writeJSONError(w, "invalid oidc claims", http.StatusUnauthorized)
			return
		}
		if !slices.Contains(s.adminEmails, claims.Email) {
			log.Ctx(ctx).WarnContext(ctx, "email is not an admin", slog.String("email", claims.Email))
			writeJSONError(w, "not an admin", http.StatusForbidden)
			return
		}
		admin.Email = claims.Email
	default:
		writeJSONError(w, "secret or token required", http.StatusBadRequest)
		return
	}

	admin.Expires = s.now().Add(s.sessionTTL)
	value, err := s.encodeSession(ctx, admin)
	if err != nil {
		writeJSONError(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "admin logged in", slog.String("admin", admin.Name()))

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Expires:  admin.Expires,
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
	})

	writeJSON(w, authStatusResponse{
		LoggedIn:   true,
		Email:      admin.Email,
		Expires:    admin.Expires,
		SecretAuth: s.adminSecret != "",
		ClientIDs:  s.oidcAudiences,
	})
}

// checkSecret compares against the configured secret in constant time. An
// empty configured secret never matches.
func (s *Server) checkSecret(secret string) bool {
	if s.adminSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(s.adminSecret)) == 1
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearCookie(w)
	w.WriteHeader(http.StatusOK)
}

type authStatusResponse struct {
	LoggedIn   bool              `json:"loggedIn"`
	Email      string            `json:"email,omitempty"`
	Expires    time.Time         `json:"expires,omitzero"`
	SecretAuth bool              `json:"secretAuth"`
	ClientIDs  map[string]string `json:"clientIDs"`
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	admin, loggedIn := s.sessionAdmin(r)
	writeJSON(w, authStatusResponse{
		LoggedIn:   loggedIn,
		Email:      admin.Email,
		Expires:    admin.Expires,
		SecretAuth: s.adminSecret != "",
		ClientIDs:  s.oidcAudiences,
	})
}

func (s *Server) authenticateToken(ctx context.Context, token string, specificClient string) (idClaims, error) {
	var errs []error

	for providerName, verifier := range s.oidcVerifiers {
		if specificClient != "" && providerName != specificClient {
			continue
		}
		claims, err := verifier(ctx, token)
		if err == nil {
			return claims, nil
		}
		errs = append(errs, fmt.Errorf("%s verifier failed: %v", providerName, err))
	}

	if len(errs) > 1 {
		return idClaims{}, errors.Join(errs...)
	}
	if len(errs) == 1 {
		return idClaims{}, errs[0]
	}
	return idClaims{}, errors.New("no valid audiences configured or token invalid")
}
