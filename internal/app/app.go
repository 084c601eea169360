// Package app wires configuration, persistence, auth, the LLM stack, and the
// HTTP/WebSocket server into one runnable ParrotTalk instance.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context ends, and Shutdown tears
// everything down in order. For testing, inject doubles via functional
// options (WithHistoryStore, WithUpstreamFactory, etc.); when an option is
// not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/openai/openai-go/option"

	"github.com/parrotalk/parrotalk/internal/auth"
	"github.com/parrotalk/parrotalk/internal/config"
	"github.com/parrotalk/parrotalk/internal/observe"
	"github.com/parrotalk/parrotalk/internal/relay"
	"github.com/parrotalk/parrotalk/internal/resilience"
	"github.com/parrotalk/parrotalk/pkg/history"
	"github.com/parrotalk/parrotalk/pkg/history/postgres"
	"github.com/parrotalk/parrotalk/pkg/provider/llm"
	"github.com/parrotalk/parrotalk/pkg/provider/llm/anyllm"
	"github.com/parrotalk/parrotalk/pkg/realtime"
)

// shutdownTimeout bounds the graceful HTTP drain when Run exits because its
// context was cancelled.
const shutdownTimeout = 10 * time.Second

// App is the assembled ParrotTalk server. Construct with [New], then call
// [App.Run]; Run blocks until the context is cancelled or the listener fails.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics

	store    history.Store
	users    history.UserStore
	auth     *auth.Service
	llm      llm.Provider
	upstream relay.UpstreamFactory
	sessions *SessionManager
	cleaner  *postgres.Cleaner

	// settingsMu guards the hot-reloadable session settings; everything else
	// is fixed after New.
	settingsMu sync.RWMutex
	settings   sessionSettings

	httpSrv *http.Server

	// closers run in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// sessionSettings are the settings new sessions start from. They follow the
// config file at runtime via [App.ApplyConfigChange]; running sessions keep
// the settings they started with.
type sessionSettings struct {
	title        string
	voice        string
	instructions string
	scenario     config.ScenarioConfig
}

// Option overrides one of the App's constructed dependencies, mainly so tests
// can substitute in-memory doubles for external services.
type Option func(*App)

// WithLogger sets the application logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithHistoryStore replaces the PostgreSQL session store.
func WithHistoryStore(store history.Store) Option {
	return func(a *App) { a.store = store }
}

// WithUserStore replaces the PostgreSQL user store.
func WithUserStore(users history.UserStore) Option {
	return func(a *App) { a.users = users }
}

// WithLLMProvider replaces the configured LLM provider.
func WithLLMProvider(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithUpstreamFactory replaces the realtime upstream factory.
func WithUpstreamFactory(f relay.UpstreamFactory) Option {
	return func(a *App) { a.upstream = f }
}

// New assembles an App from cfg. Construction is fail-fast: a dead database,
// an unknown LLM provider name, or an unreadable instruction template all
// surface here rather than on the first session.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}

	a := &App{
		cfg:      cfg,
		sessions: NewSessionManager(0),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initAuth(); err != nil {
		return nil, err
	}
	if err := a.initLLM(); err != nil {
		return nil, err
	}
	if err := a.initUpstream(); err != nil {
		return nil, err
	}

	instructions, err := loadInstructions(cfg.Conversation.InstructionTemplatePath)
	if err != nil {
		return nil, err
	}
	a.settings = sessionSettings{
		title:        cfg.Conversation.DefaultTitle,
		voice:        cfg.OpenAI.Voice,
		instructions: instructions,
		scenario:     cfg.Scenario,
	}

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStore connects the PostgreSQL store when a DSN is configured. Without
// one the app runs stateless: no accounts, no history, no cleanup.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		a.cleaner = postgres.NewCleaner(a.store, a.cfg.Cleanup.Interval, a.cfg.Cleanup.TTL, a.log)
		return nil
	}
	if a.cfg.Database.PostgresDSN == "" {
		return nil
	}

	store, err := postgres.NewStore(ctx, a.cfg.Database.PostgresDSN)
	if err != nil {
		return fmt.Errorf("app: connect postgres: %w", err)
	}
	a.store = store
	if a.users == nil {
		a.users = store
	}
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})

	a.cleaner = postgres.NewCleaner(store, a.cfg.Cleanup.Interval, a.cfg.Cleanup.TTL, a.log)
	return nil
}

// initAuth builds the token service when a user store and signing secret are
// both present.
func (a *App) initAuth() error {
	if a.users == nil || a.cfg.Auth.JWTSecret == "" {
		return nil
	}
	svc, err := auth.NewService(a.users, []byte(a.cfg.Auth.JWTSecret),
		auth.WithTokenTTL(a.cfg.Auth.TokenTTL))
	if err != nil {
		return fmt.Errorf("app: create auth service: %w", err)
	}
	a.auth = svc
	return nil
}

// initLLM builds the scenario LLM provider from the configured entry, wrapped
// in a circuit-breaking fallback group.
func (a *App) initLLM() error {
	if a.llm != nil || a.cfg.LLM.Name == "" {
		return nil
	}

	reg := config.NewRegistry()
	for _, name := range config.ValidProviderNames["llm"] {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(entry.Name, entry.Model, llmOptions(entry)...)
		})
	}

	primary, err := reg.CreateLLM(a.cfg.LLM)
	if err != nil {
		return fmt.Errorf("app: create llm provider: %w", err)
	}
	a.llm = resilience.NewLLMFallback(primary, a.cfg.LLM.Name,
		resilience.FallbackConfig{Logger: a.log})
	return nil
}

// llmOptions converts a provider entry's credentials into any-llm-go options.
func llmOptions(entry config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return opts
}

// loadInstructions reads the persona template file. An empty path selects the
// built-in default persona.
func loadInstructions(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("app: read instruction template: %w", err)
	}
	return string(data), nil
}

// currentSettings returns a snapshot of the session settings.
func (a *App) currentSettings() sessionSettings {
	a.settingsMu.RLock()
	defer a.settingsMu.RUnlock()
	return a.settings
}

// ApplyConfigChange folds a reloaded configuration into the running app.
// Only the hot-reloadable session settings move; the listener, credentials,
// and database keep their startup values. Sessions started after the call
// use the new settings.
func (a *App) ApplyConfigChange(cfg *config.Config) {
	instructions, err := loadInstructions(cfg.Conversation.InstructionTemplatePath)

	a.settingsMu.Lock()
	defer a.settingsMu.Unlock()
	if err != nil {
		// Keep the old template rather than silently reverting to the
		// built-in persona.
		a.log.Warn("instruction template not reloaded", "error", err)
		instructions = a.settings.instructions
	}
	a.settings = sessionSettings{
		title:        cfg.Conversation.DefaultTitle,
		voice:        cfg.OpenAI.Voice,
		instructions: instructions,
		scenario:     cfg.Scenario,
	}
	a.log.Info("session settings reloaded",
		"voice", cfg.OpenAI.Voice,
		"scenario", cfg.Scenario.Enabled,
	)
}

// initUpstream builds the default realtime upstream factory: per connection,
// an ephemeral client secret is minted and a fresh WebSocket client is dialed
// with it, so the long-lived API key never authenticates a per-user
// connection.
func (a *App) initUpstream() error {
	if a.upstream != nil {
		return nil
	}

	var minterOpts []option.RequestOption
	if a.cfg.OpenAI.BaseURL != "" {
		minterOpts = append(minterOpts, option.WithBaseURL(a.cfg.OpenAI.BaseURL))
	}
	minter := realtime.NewMinter(a.cfg.OpenAI.APIKey, minterOpts...)

	wsURL, err := realtime.WebSocketURL(a.cfg.OpenAI.BaseURL, a.cfg.OpenAI.Model)
	if err != nil {
		return fmt.Errorf("app: derive realtime URL: %w", err)
	}

	model := a.cfg.OpenAI.Model
	log := a.log
	a.upstream = func(ctx context.Context) (*realtime.Client, error) {
		sess, err := minter.Mint(ctx, model)
		if err != nil {
			return nil, err
		}
		return realtime.NewClient(wsURL,
			realtime.WithBearerToken(sess.ClientSecret),
			realtime.WithLogger(log),
		), nil
	}
	return nil
}

// Handler returns the assembled HTTP handler, for serving through a custom
// listener or an httptest server.
func (a *App) Handler() http.Handler {
	return a.httpSrv.Handler
}

// Run starts the background cleanup loop and the HTTP listener, then blocks
// until ctx is cancelled or the listener fails. On cancellation the server is
// drained gracefully.
func (a *App) Run(ctx context.Context) error {
	if a.cleaner != nil {
		a.cleaner.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.log.Info("server listening",
		"addr", a.cfg.Server.ListenAddr,
		"tls", a.cfg.Server.TLS != nil,
		"accounts", a.auth != nil,
		"scenario", a.cfg.Scenario.Enabled,
	)

	select {
	case err := <-errCh:
		a.Shutdown(context.Background())
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	}
}

// Shutdown drains the HTTP server and releases resources in reverse init
// order. Idempotent; only the first call does work.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		if shutdownErr := a.httpSrv.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("app: http shutdown: %w", shutdownErr)
		}
		if a.cleaner != nil {
			a.cleaner.Stop()
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if closeErr := a.closers[i](); closeErr != nil {
				a.log.Warn("closer error", "index", i, "error", closeErr)
			}
		}
		a.log.Info("server stopped")
	})
	return err
}
