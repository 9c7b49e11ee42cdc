package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"imagemax/internal/app"
	"imagemax/internal/authclient"
	"imagemax/internal/config"
	"imagemax/internal/provider"
	"imagemax/internal/server"
	"imagemax/internal/storage"
	"imagemax/internal/store"
	"imagemax/internal/usertoken"
	"imagemax/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var authClient *authclient.Client
	var tokenVerifier *usertoken.Verifier
	var sessions store.SessionStore
	if cfg.AuthServiceURL != "" {
		authClient = authclient.NewClient(cfg.AuthServiceURL)
		if cfg.AuthJWKSURL != "" {
			jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
			if err != nil {
				util.Fatal("failed to parse jwt leeway", "err", err)
			}
			tokenVerifier, err = usertoken.NewVerifier(usertoken.Config{
				JWKSURL:    cfg.AuthJWKSURL,
				Issuer:     cfg.JWTIssuer,
				Audience:   cfg.JWTAudience,
				Leeway:     jwtLeeway,
				HTTPClient: &http.Client{Timeout: 5 * time.Second},
			})
			if err != nil {
				util.Fatal("failed to init jwks verifier", "err", err)
			}
		}
	} else {
		sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
		if err != nil {
			util.Fatal("failed to parse session ttl", "err", err)
		}
		sessions = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)
	}

	var objects storage.ObjectStore
	if !cfg.MockImages {
		objects, err = storage.NewMinioStore(storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicBaseURL,
		})
		if err != nil {
			util.Fatal("failed to init object store", "err", err)
		}
	}

	factory := provider.NewFactory(provider.FactoryConfig{
		MockMode: cfg.MockImages,
		Dalle: provider.DalleConfig{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.ImageModel,
			Size:    cfg.ImageSize,
		},
	}, objects)

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Factory:     factory,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:           appCore,
		Auth:          authClient,
		Sessions:      sessions,
		TokenVerifier: tokenVerifier,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("imagemax server listening", "addr", addr, "mockImages", cfg.MockImages)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
