package server

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-playground/validator/v10"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/honorarium/pkg/common"
	"github.com/raterudder/honorarium/pkg/log"
	"github.com/raterudder/honorarium/pkg/report"
	"github.com/raterudder/honorarium/pkg/storage"
	"github.com/raterudder/honorarium/pkg/types"
)

const (
	sessionCookie     = "admin_session"
	defaultSessionTTL = 12 * time.Hour
)

type contextKey string

const (
	adminContextKey contextKey = "admin"
)

// oidcIssuers maps supported provider names to their issuer URL.
var oidcIssuers = map[string]string{
	"google": "https://accounts.google.com",
	"apple":  "https://appleid.apple.com",
}

// idClaims is the part of a verified ID token the server cares about.
type idClaims struct {
	Email   string
	Subject string
	Expiry  time.Time
}

// tokenVerifier validates a raw ID token and returns its claims.
type tokenVerifier func(ctx context.Context, rawIDToken string) (idClaims, error)

// configSnapshot is an immutable config along with its stored version.
type configSnapshot struct {
	types.Config
	version int
}

// Server exposes the estimator over HTTP along with the admin config editor.
type Server struct {
	storage  storage.Database
	composer *report.Composer
	metrics  *metrics
	validate *validator.Validate

	// cfg is swapped as a whole on every edit, readers never lock
	cfg   atomic.Pointer[configSnapshot]
	cfgMu sync.Mutex

	listenAddr string
	httpServer *http.Server

	adminSecret   string
	adminEmails   []string
	oidcAudiences map[string]string
	oidcVerifiers map[string]tokenVerifier
	sessionKey    []byte
	sessionTTL    time.Duration
	serverName    string
	now           func() time.Time
}

// New returns a Server with no admin access configured and the default
// config loaded. Call loadConfig to read the stored config.
func New(s storage.Database, c *report.Composer) *Server {
	srv := &Server{
		storage:    s,
		composer:   c,
		metrics:    newMetrics(),
		validate:   validator.New(),
		listenAddr: ":8080",
		sessionTTL: defaultSessionTTL,
		serverName: "honorarium/" + common.Version(),
		now:        time.Now,
	}
	srv.cfg.Store(&configSnapshot{Config: types.DefaultConfig(), version: types.CurrentConfigVersion})
	return srv
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(s storage.Database, c *report.Composer) *Server {
	srv := New(s, c)

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminSecret := lflag.String("admin-secret", "", "Shared secret that unlocks the config editor (empty disables secret login)")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to edit the config via OIDC login")
	oidcAudiences := map[string]string{}
	lflag.JSON(&oidcAudiences, "oidc-audiences", oidcAudiences, "JSON map of provider (google/apple) to audience/client ID")
	sessionKey := lflag.String("session-key", "", "32 character key used to encrypt admin sessions (random per process if empty)")
	sessionTTL := lflag.Duration("admin-session-ttl", defaultSessionTTL, "How long an admin session lasts")

	lflag.Do(func() {
		ctx := context.Background()
		srv.listenAddr = *listenAddr
		srv.adminSecret = *adminSecret
		srv.sessionTTL = *sessionTTL
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}

		if len(oidcAudiences) > 0 {
			srv.oidcAudiences = make(map[string]string, len(oidcAudiences))
			srv.oidcVerifiers = make(map[string]tokenVerifier, len(oidcAudiences))
			oidcCtx := oidc.ClientContext(ctx, common.HTTPClient(10*time.Second))
			for n, a := range oidcAudiences {
				issuer, ok := oidcIssuers[n]
				if !ok {
					log.Ctx(ctx).Error("unsupported oidc audience client", slog.String("client", n))
					os.Exit(1)
				}
				provider, err := oidc.NewProvider(oidcCtx, issuer)
				if err != nil {
					log.Ctx(ctx).Error("failed to initialize OIDC provider", slog.String("client", n), slog.Any("error", err))
					os.Exit(1)
				}
				srv.oidcVerifiers[n] = oidcVerifier(provider.Verifier(&oidc.Config{ClientID: a}))
				srv.oidcAudiences[n] = a
			}
		}

		switch len(*sessionKey) {
		case 0:
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				panic(fmt.Errorf("failed to generate session key: %w", err))
			}
			srv.sessionKey = key
			log.Ctx(ctx).Warn("no session-key set, admin sessions will not survive a restart")
		case 32:
			srv.sessionKey = []byte(*sessionKey)
		default:
			log.Ctx(ctx).Error("session-key must be 32 characters")
			os.Exit(1)
		}

		if srv.adminSecret == "" && len(srv.oidcVerifiers) == 0 {
			log.Ctx(ctx).Warn("no admin login configured, the config editor is disabled")
		}
	})

	return srv
}

// oidcVerifier adapts a go-oidc verifier to a tokenVerifier.
func oidcVerifier(v *oidc.IDTokenVerifier) tokenVerifier {
	return func(ctx context.Context, raw string) (idClaims, error) {
		idToken, err := v.Verify(ctx, raw)
		if err != nil {
			return idClaims{}, err
		}
		var claims struct {
			Email string `json:"email"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return idClaims{}, err
		}
		return idClaims{Email: claims.Email, Subject: idToken.Subject, Expiry: idToken.Expiry}, nil
	}
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/estimate", s.handleEstimate)
	apiMux.HandleFunc("POST /api/estimate/summary", s.handleEstimateSummary)
	apiMux.HandleFunc("POST /api/estimate/email", s.handleEstimateEmail)
	apiMux.HandleFunc("POST /api/estimate/xlsx", s.handleEstimateXLSX)
	apiMux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	apiMux.HandleFunc("POST /api/auth/login", s.handleLogin)
	apiMux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	apiMux.Handle("GET /api/config", s.adminMiddleware(http.HandlerFunc(s.handleGetConfig)))
	apiMux.Handle("POST /api/config", s.adminMiddleware(http.HandlerFunc(s.handleUpdateConfig)))
	apiMux.Handle("GET /api/config/changes", s.adminMiddleware(http.HandlerFunc(s.handleListConfigChanges)))

	mux := http.NewServeMux()
	mux.Handle("/api/", s.requestLogMiddleware(apiMux))
	mux.Handle("GET /metrics", s.metrics.handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// loadConfig reads the stored config, migrates it if needed and makes it the
// active snapshot.
func (s *Server) loadConfig(ctx context.Context) error {
	cfg, version, err := s.storage.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	if version < types.CurrentConfigVersion {
		log.Ctx(ctx).InfoContext(ctx, "migrating config", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentConfigVersion))
		migrated, changed, err := types.MigrateConfig(cfg, version)
		if err != nil {
			return fmt.Errorf("failed to migrate config: %w", err)
		}
		if changed {
			if err := s.storage.SetConfig(ctx, migrated, types.CurrentConfigVersion); err != nil {
				// keep going with the migrated config so this process still works
				log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated config", slog.Any("error", err))
			} else {
				log.Ctx(ctx).InfoContext(ctx, "saved migrated config", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentConfigVersion))
			}
		}
		cfg = migrated
		version = types.CurrentConfigVersion
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("stored config is invalid: %w", err)
	}

	s.cfg.Store(&configSnapshot{Config: cfg, version: version})
	log.Ctx(ctx).DebugContext(ctx, "config loaded", slog.Int("version", version))
	return nil
}

// snapshot returns the active config. The returned value must not be modified.
func (s *Server) snapshot() *configSnapshot {
	return s.cfg.Load()
}

// Run loads the config, starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.loadConfig(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.With(r.Context(), log.Ctx(r.Context()).With(slog.String("reqPath", r.URL.Path)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
