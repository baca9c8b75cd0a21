// Gateway runs the edge security layer in front of UPSTREAM_URL and serves /api/auth.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	accountcache "edge-guard/backend/internal/account/cache"
	accountrepo "edge-guard/backend/internal/account/repository"
	"edge-guard/backend/internal/audit"
	auditrepo "edge-guard/backend/internal/audit/repository"
	"edge-guard/backend/internal/config"
	"edge-guard/backend/internal/db"
	"edge-guard/backend/internal/edge"
	healthhandler "edge-guard/backend/internal/health/handler"
	identityhandler "edge-guard/backend/internal/identity/handler"
	identityservice "edge-guard/backend/internal/identity/service"
	"edge-guard/backend/internal/policy/engine"
	"edge-guard/backend/internal/ratelimit"
	"edge-guard/backend/internal/revocation"
	"edge-guard/backend/internal/security"
	"edge-guard/backend/internal/server"
	sessionrepo "edge-guard/backend/internal/session/repository"
	"edge-guard/backend/internal/telemetry"
	oteltelemetry "edge-guard/backend/internal/telemetry/otel"
	"edge-guard/backend/internal/telemetry/producer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	providers, err := oteltelemetry.NewProviders(ctx, oteltelemetry.Config{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close()

	// Runtime outages degrade per the fail-open settings; an unreachable store at startup is fatal.
	rdb, err := db.OpenRedis(ctx, cfg.RedisURL, cfg.RedisTimeout())
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	issuer, err := security.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL())
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}
	classifier, err := engine.LoadOPAClassifier(ctx, cfg.RoutePolicyFile)
	if err != nil {
		log.Fatalf("route policy: %v", err)
	}

	store := revocation.NewStore(rdb, revocation.Config{Enabled: cfg.RevocationEnabled, FailClosed: cfg.RevocationFailClosed})
	var limiter edge.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewLimiter(rdb)
	}

	kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SecurityEventsTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	defer kafkaProducer.Close()
	events := telemetry.MultiEmitter{oteltelemetry.NewEventEmitter(providers.LoggerProvider), kafkaProducer}

	accounts, err := accountcache.New(accountrepo.NewPostgresRepository(database), cfg.AccountCacheTTL())
	if err != nil {
		log.Fatalf("account cache: %v", err)
	}
	defer accounts.Close()

	authSvc := identityservice.NewAuthService(identityservice.Deps{
		Accounts:   accounts,
		Sessions:   sessionrepo.NewPostgresRepository(database),
		Tokens:     issuer,
		Versions:   store,
		Passwords:  security.NewHasher(cfg.BcryptCost),
		Audit:      audit.NewLogger(auditrepo.NewPostgresRepository(database), edge.ClientIPFrom),
		Events:     events,
		RefreshTTL: cfg.RefreshTTL(),
	})

	upstream, err := server.NewUpstream(cfg.UpstreamURL)
	if err != nil {
		log.Fatalf("upstream: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := server.Deps{
		Classifier:  classifier,
		Tokens:      issuer,
		Revocations: store,
		Limiter:     limiter,
		Sanitizer: edge.SanitizerConfig{
			Enabled:      cfg.SanitizerEnabled,
			MaxBodyBytes: cfg.MaxRequestBodyBytes,
		},
		Origin: edge.OriginConfig{
			Enabled:             cfg.OriginGuardEnabled,
			ProtectedPrefix:     cfg.OriginProtectedPrefix,
			AllowedOrigins:      cfg.AllowedOriginsList(),
			TrustForwardedProto: cfg.TrustForwardedProto,
			CredentialCookie:    cfg.AccessTokenCookie,
		},
		Auth: edge.AuthConfig{
			CookieName:         cfg.AccessTokenCookie,
			FingerprintBinding: cfg.TokenFingerprintBinding,
		},
		AuthHandler: identityhandler.New(authSvc, identityhandler.CookieConfig{
			AccessName:  cfg.AccessTokenCookie,
			RefreshName: cfg.RefreshTokenCookie,
			Secure:      cfg.CookieSecure,
		}),
		Health:         healthhandler.New(database, store, classifier),
		Upstream:       upstream,
		Metrics:        edge.NewMetrics(reg),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Events:         events,
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(server.NewRouter(deps), "edge-gateway"),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("gateway listening on %s, upstream %s", cfg.HTTPAddr, cfg.UpstreamURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down gateway...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	// Let in-flight async emits finish before the log exporter goes away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("gateway stopped")
}
