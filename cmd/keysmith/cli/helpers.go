package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/faucetdb/keysmith/internal/config"
	"github.com/faucetdb/keysmith/internal/hasher"
	"github.com/faucetdb/keysmith/internal/secret"
	"github.com/faucetdb/keysmith/internal/service"
	"github.com/faucetdb/keysmith/internal/store"
	"github.com/faucetdb/keysmith/internal/telemetry"
)

// loadConfig decodes the effective configuration from viper, filling in
// the default data directory for a file-backed SQLite store.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if store.CanonicalDriver(cfg.Store.Driver) == "sqlite" && cfg.Store.DSN == "" && cfg.Store.DataDir == "" {
		cfg.Store.DataDir = defaultDataDir()
	}
	return cfg, nil
}

// defaultDataDir returns KEYSMITH_DATA_DIR, or ~/.keysmith as fallback.
func defaultDataDir() string {
	if envDir := os.Getenv("KEYSMITH_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keysmith")
}

// openStore opens the credential store described by cfg.
func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(store.Config{
		Driver:         cfg.Store.Driver,
		DSN:            cfg.Store.DSN,
		DataDir:        cfg.Store.DataDir,
		CandidateLimit: cfg.Store.CandidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	return st, nil
}

// newLogger builds the process logger. Raw keys are redacted from every
// record regardless of handler.
func newLogger(cfg *config.Config, dev bool, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: secret.RedactAttr}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// keyStack is the generator, hasher and services shared by serve and the
// key subcommands.
type keyStack struct {
	gen      *secret.Generator
	hasher   *hasher.Hasher
	store    *store.Store
	toucher  *service.Toucher
	issuer   *service.IssuanceService
	verifier *service.Verifier
}

// newKeyStack wires the key services on top of an open store. Close the
// returned stack to drain pending last-used updates.
func newKeyStack(cfg *config.Config, st *store.Store, logger *slog.Logger, metrics *telemetry.Metrics) (*keyStack, error) {
	gen, err := secret.New(cfg.Keys.Tag, cfg.Keys.PrefixLength)
	if err != nil {
		return nil, err
	}
	h, err := hasher.New(cfg.Hash.Version,
		hasher.WithMaxConcurrent(cfg.Hash.MaxConcurrent),
		hasher.WithObserver(metrics.ObserveHash),
	)
	if err != nil {
		return nil, err
	}

	toucher := service.NewToucher(st, service.DefaultTouchQueue, logger, metrics)
	issuer := service.NewIssuanceService(service.IssuanceConfig{
		MaxNameLength:   cfg.Keys.MaxNameLength,
		MaxKeysPerOwner: cfg.Keys.MaxKeysPerOwner,
	}, gen, h, st, logger, metrics)

	return &keyStack{
		gen:      gen,
		hasher:   h,
		store:    st,
		toucher:  toucher,
		issuer:   issuer,
		verifier: service.NewVerifier(gen, h, st, toucher, logger, metrics),
	}, nil
}

func (k *keyStack) Close() {
	k.toucher.Close()
}

// ownerAuth returns the owner token validator, falling back to a fixed
// secret in dev mode only.
func ownerAuth(cfg *config.Config, dev bool, logger *slog.Logger) (*service.OwnerAuth, error) {
	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		if !dev {
			return nil, fmt.Errorf("auth.jwt_secret is required (set KEYSMITH_AUTH_JWT_SECRET)")
		}
		logger.Warn("auth.jwt_secret not set, using the insecure development secret")
		jwtSecret = devJWTSecret
	}
	return service.NewOwnerAuth(jwtSecret, cfg.Auth.JWTIssuer)
}

const devJWTSecret = "keysmith-dev-secret-change-me"

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// describeError turns a service error into a message for the operator.
func describeError(err error) string {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return fmt.Sprintf("invalid %s: %s", verr.Field, verr.Message)
	case errors.Is(err, service.ErrNotFoundOrForbidden):
		return "API key not found"
	case errors.Is(err, service.ErrUnauthorized):
		return "API key rejected"
	default:
		return err.Error()
	}
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
