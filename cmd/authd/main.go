package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/tenvia/idp-core/pkg/api"
	"github.com/tenvia/idp-core/pkg/authenticator"
	"github.com/tenvia/idp-core/pkg/authn"
	"github.com/tenvia/idp-core/pkg/config"
	"github.com/tenvia/idp-core/pkg/credential"
	"github.com/tenvia/idp-core/pkg/dosguard"
	"github.com/tenvia/idp-core/pkg/flow"
	"github.com/tenvia/idp-core/pkg/identity"
	"github.com/tenvia/idp-core/pkg/processor"
	"github.com/tenvia/idp-core/pkg/rememberme"
	"github.com/tenvia/idp-core/pkg/session"
	"github.com/tenvia/idp-core/pkg/sessiontoken"
	"github.com/tenvia/idp-core/pkg/token"
)

// Config extends the shared server configuration with the wiring choices of
// this binary.
type Config struct {
	config.Config

	// SecondFactorPolicy is the flow policy: NEVER, ALWAYS or USER_OPT_IN.
	SecondFactorPolicy string `env:"IDP_SECOND_FACTOR_POLICY" env-default:"NEVER"`

	// AdminUsername/AdminPassword seed a bootstrap account when the identity
	// store starts empty (in-memory and redis backends).
	AdminUsername string `env:"IDP_ADMIN_USERNAME" env-default:"admin"`
	AdminPassword string `env:"IDP_ADMIN_PASSWORD" env-default:"please-change-admin-pwd"`
}

func loadEnvFile() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			slog.Warn("Failed loading .env file", "err", err)
		} else {
			slog.Info("Loaded environment variables from .env file")
		}
	}
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))
	slog.SetDefault(logger)

	loadEnvFile()

	cfg := Config{}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed reading environment configuration", "err", err)
		os.Exit(-1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(-1)
	}

	ctx := context.Background()

	tokens, identities, err := buildStores(ctx, &cfg)
	if err != nil {
		slog.Error("Failed creating stores", "backend", cfg.Store.Backend, "err", err)
		os.Exit(-1)
	}

	registry := authenticator.NewRegistry(identities)
	registerAuthenticatorTypes(registry, identities)

	if err := seedCredentialDefinitions(ctx, identities); err != nil {
		slog.Error("Failed seeding credential definitions", "err", err)
		os.Exit(-1)
	}

	pwdWeb, err := registry.NewInstance(ctx, authenticator.Definition{
		ID: "pwdWeb", Type: "password-web", LocalCredentialName: "sys:password",
	})
	if err != nil {
		slog.Error("Failed instantiating password authenticator", "err", err)
		os.Exit(-1)
	}
	totpWeb, err := registry.NewInstance(ctx, authenticator.Definition{
		ID: "totpWeb", Type: "totp-web", LocalCredentialName: "sys:totp",
	})
	if err != nil {
		slog.Error("Failed instantiating totp authenticator", "err", err)
		os.Exit(-1)
	}

	if inmem, ok := identities.(*identity.InMemStore); ok {
		if err := seedAdmin(ctx, inmem, pwdWeb, &cfg); err != nil {
			slog.Error("Failed seeding admin account", "err", err)
			os.Exit(-1)
		}
		slog.Info("Seeded bootstrap account", "username", cfg.AdminUsername)
	}

	mainFlow, err := flow.New(flow.Config{
		ID:           cfg.Realm.Name,
		Policy:       flow.Policy(cfg.SecondFactorPolicy),
		FirstFactor:  []*authenticator.Instance{pwdWeb},
		SecondFactor: []*authenticator.Instance{totpWeb},
	}, identities, nil)
	if err != nil {
		slog.Error("Failed building authentication flow", "err", err)
		os.Exit(-1)
	}

	rlm := cfg.Realm.ToRealm()
	sessions := session.NewManager(tokens)
	sessions.StartReaper(ctx, cfg.ReaperPeriod)

	counter := dosguard.NewLockoutCounter(rlm.BlockAfterUnsuccessfulLogins, rlm.BlockFor)
	assertions := sessiontoken.NewGenerator(cfg.Assertion.Secret, cfg.Assertion.Issuer,
		cfg.Assertion.Audience, cfg.Assertion.Validity)

	handle := api.NewHandle(
		api.WithFlow(mainFlow),
		api.WithProcessor(processor.New(identities)),
		api.WithSessionManager(sessions),
		api.WithCounter(counter),
		api.WithRememberMe(rememberme.NewProcessor(tokens, counter, sessions, identities)),
		api.WithAssertionGenerator(assertions),
		api.WithIdentityResolver(identities),
		api.WithRealm(rlm),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Route("/api/v1/auth", handle.Routes)

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Authentication server listening", "addr", cfg.Server.Addr(),
		"realm", rlm.Name, "store", cfg.Store.Backend, "policy", cfg.SecondFactorPolicy)
	if err := server.ListenAndServe(); err != nil {
		slog.Error("Server stopped", "err", err)
		os.Exit(-1)
	}
}

// identityStore joins the two collaborator interfaces both backends satisfy.
type identityStore interface {
	authn.IdentityResolver
	authn.CredentialStore
}

func buildStores(ctx context.Context, cfg *Config) (token.Store, identityStore, error) {
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.Database.ToDatabaseURL())
		if err != nil {
			return nil, nil, fmt.Errorf("creating pgx pool: %w", err)
		}
		return token.NewPostgresStore(pool), identity.NewPostgresStore(pool), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("pinging redis: %w", err)
		}
		// redis carries only tokens, identities stay in memory
		return token.NewRedisStore(client), identity.NewInMemStore(), nil

	default:
		return token.NewInMemStore(), identity.NewInMemStore(), nil
	}
}

func registerAuthenticatorTypes(registry *authenticator.Registry, identities identityStore) {
	must(registry.Register(authenticator.TypeRegistration{
		Type:           "password-web",
		Binding:        api.WebBinding,
		CredentialType: "password",
		NewVerificator: func() authn.CredentialVerificator {
			return credential.NewPasswordVerificator(identities)
		},
		NewRetrieval: func(v authn.CredentialVerificator) authn.CredentialRetrieval {
			return api.NewPasswordFormRetrieval(v, identities)
		},
	}))
	must(registry.Register(authenticator.TypeRegistration{
		Type:           "totp-web",
		Binding:        api.WebBinding,
		CredentialType: "totp",
		NewVerificator: func() authn.CredentialVerificator {
			return credential.NewTOTPVerificator(identities)
		},
		NewRetrieval: func(v authn.CredentialVerificator) authn.CredentialRetrieval {
			return api.NewCodeFormRetrieval(v)
		},
	}))
}

func seedCredentialDefinitions(ctx context.Context, identities identityStore) error {
	definitions := []authn.CredentialDefinition{
		{Name: "sys:password", TypeID: "password"},
		{Name: "sys:totp", TypeID: "totp"},
	}
	switch store := identities.(type) {
	case *identity.InMemStore:
		for _, def := range definitions {
			if err := store.AddCredentialDefinition(def); err != nil {
				return err
			}
		}
	case *identity.PostgresStore:
		for _, def := range definitions {
			if err := store.AddCredentialDefinition(ctx, def); err != nil {
				return err
			}
		}
	}
	return nil
}

func seedAdmin(ctx context.Context, store *identity.InMemStore, pwdWeb *authenticator.Instance, cfg *Config) error {
	id, err := store.AddEntity(identity.Entity{
		Subject: cfg.AdminUsername,
		Label:   "Administrator",
		Enabled: true,
		Groups:  []string{"/admins"},
	})
	if err != nil {
		return err
	}
	verificator := pwdWeb.LocalVerificator().(*credential.PasswordVerificator)
	return verificator.SetPassword(ctx, id, cfg.AdminPassword)
}

func must(err error) {
	if err != nil {
		slog.Error("Authenticator type registration failed", "err", err)
		os.Exit(-1)
	}
}
