package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/radiolink/internal/api"
	"github.com/charlesng35/radiolink/internal/app"
	"github.com/charlesng35/radiolink/internal/app/maintenance"
	"github.com/charlesng35/radiolink/internal/auth"
	"github.com/charlesng35/radiolink/internal/catalog"
	"github.com/charlesng35/radiolink/internal/database"
	"github.com/charlesng35/radiolink/internal/gateway"
	"github.com/charlesng35/radiolink/internal/history"
	"github.com/charlesng35/radiolink/internal/monitoring"
	"github.com/charlesng35/radiolink/internal/preferences"
	"github.com/charlesng35/radiolink/internal/realtime"
	"github.com/charlesng35/radiolink/internal/session"
	"github.com/charlesng35/radiolink/internal/tokenstore"
	"github.com/charlesng35/radiolink/pkg/crypto"
	"github.com/charlesng35/radiolink/pkg/logger"
)

// runtimeStack bundles the long-lived components behind the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Gateway *gateway.Gateway
	Manager *session.Manager
	History *history.Service
	Hub     *realtime.Hub
	Cleaner *maintenance.Cleaner
	Health  *monitoring.Checker
	Router  *gin.Engine

	wg          sync.WaitGroup
	unsubscribe func()
}

// bootstrapRuntime opens the database, builds the relay login and gateway
// link, and wires them into the session manager and HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			_ = stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	generated, err := app.ApplyRuntimeDefaults(ctx, cfg, stack.DB)
	if err != nil {
		return nil, err
	}
	for key := range generated {
		log.Info("generated runtime secret", zap.String("key", key))
	}

	vaultKey, err := crypto.ResolveKey(cfg.Vault.EncryptionKey, cfg.Vault.Salt)
	if err != nil {
		return nil, fmt.Errorf("resolve vault key: %w", err)
	}

	tokens, err := tokenstore.NewGormStore(stack.DB, tokenstore.DefaultService, vaultKey)
	if err != nil {
		return nil, fmt.Errorf("initialise token store: %w", err)
	}

	authSession, err := newAuthSession(ctx, cfg.Relay, tokens, log)
	if err != nil {
		return nil, err
	}

	cat := catalog.New()
	stack.Gateway, err = gateway.New(cat, gatewayDialer(cfg.Gateway), cfg.Gateway.Options())
	if err != nil {
		return nil, fmt.Errorf("initialise gateway: %w", err)
	}

	prefs, err := preferences.NewSettingsStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise preferences: %w", err)
	}

	stack.History, err = history.NewService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise history: %w", err)
	}

	stack.Hub = realtime.NewHub()

	stack.Manager, err = session.New(session.Dependencies{
		Transport:   stack.Gateway,
		Relay:       stack.Gateway,
		Catalog:     cat,
		Auth:        authSession,
		Preferences: prefs,
		Recorder:    &streamingRecorder{next: stack.History, hub: stack.Hub},
		Events:      stack.Gateway.Events(),
	}, cfg.Session.ManagerConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise session manager: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(stack.DB, stack.Manager, stack.History,
		maintenance.WithRefreshSchedule(cfg.Maintenance.RefreshSchedule),
		maintenance.WithHistorySchedule(cfg.Maintenance.HistorySchedule),
		maintenance.WithHistoryRetentionDays(cfg.Maintenance.HistoryRetentionDays),
	)

	stack.Health = monitoring.NewChecker(0)
	stack.Health.Register(monitoring.Database(stack.DB))
	stack.Health.Register(monitoring.Link("gateway", stack.Gateway))

	stack.Router, err = api.NewRouter(api.Services{
		Sessions: stack.Manager,
		History:  stack.History,
		Hub:      stack.Hub,
		Health:   stack.Health,
	}, cfg)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Start launches the gateway link, the session manager, snapshot streaming and
// the maintenance jobs. They stop when ctx ends.
func (s *runtimeStack) Start(ctx context.Context) {
	updates, unsubscribe := s.Manager.Subscribe()
	s.unsubscribe = unsubscribe

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		_ = s.Gateway.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		_ = s.Manager.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		realtime.Forward(ctx, s.Hub, realtime.StreamSession, realtime.EventSnapshot, updates)
	}()

	if err := s.Cleaner.Start(); err != nil {
		logger.WithModule("bootstrap").Warn("maintenance jobs not started", zap.Error(err))
	}
}

// Shutdown waits for started components, stops background jobs and releases
// the database. The caller cancels the Start context first.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("maintenance jobs: %w", ctx.Err()))
		}
	}

	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = multierr.Append(errs, fmt.Errorf("runtime components: %w", ctx.Err()))
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.Connection()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Prepare(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("prepare database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

func newAuthSession(ctx context.Context, cfg app.RelayConfig, tokens auth.TokenStore, log *zap.Logger) (*auth.Session, error) {
	var exchanger auth.Exchanger = auth.UnconfiguredExchanger{}
	if cfg.Configured() {
		oauth, err := auth.NewOAuthExchanger(cfg.OAuthConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise relay exchanger: %w", err)
		}
		exchanger = oauth
	} else {
		log.Warn("relay provider not configured; relay login disabled")
	}

	var err error
	var decoder auth.Decoder = auth.UnverifiedDecoder{}
	if cfg.Verify {
		decoder, err = auth.NewOIDCDecoder(ctx, cfg.Issuer, cfg.JWKSURL, cfg.ClientID, nil)
		if err != nil {
			return nil, fmt.Errorf("initialise id token verifier: %w", err)
		}
	}

	s, err := auth.NewSession(tokens, exchanger, decoder, cfg.SessionConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise relay session: %w", err)
	}
	return s, nil
}

func gatewayDialer(cfg app.GatewayConfig) gateway.Dialer {
	if cfg.Driver == "mqtt" {
		mqttCfg := cfg.MQTTLinkConfig()
		return func(ctx context.Context) (gateway.Link, error) {
			link, err := gateway.DialMQTT(ctx, mqttCfg)
			if err != nil {
				return nil, err
			}
			return link, nil
		}
	}

	url := cfg.URL
	return func(ctx context.Context) (gateway.Link, error) {
		link, err := gateway.DialWebsocket(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return link, nil
	}
}

// streamingRecorder persists history entries and announces them on the
// history stream.
type streamingRecorder struct {
	next session.Recorder
	hub  *realtime.Hub
}

func (r *streamingRecorder) Record(ctx context.Context, entry history.Entry) error {
	if err := r.next.Record(ctx, entry); err != nil {
		return err
	}
	r.hub.Broadcast(realtime.StreamHistory, realtime.Message{
		Event: realtime.EventRecorded,
		Data: map[string]any{
			"action":  entry.Action,
			"serial":  entry.Serial,
			"kind":    entry.Kind,
			"station": entry.Station,
			"reason":  entry.Reason,
			"result":  entry.Result,
			"details": entry.Details,
		},
	})
	return nil
}
