package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"ragchat/internal/app"
	"ragchat/internal/config"
	"ragchat/internal/ingest"
	"ragchat/internal/memory"
	"ragchat/internal/server"
	"ragchat/internal/util"
	"ragchat/pkg/ai"
	"ragchat/pkg/storage"
	"ragchat/pkg/store"
	"ragchat/pkg/vectorstore"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		util.Fatal("failed to parse session ttl", "err", err)
	}

	var st store.Store
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL, cfg.EmbeddingDim)
		if err != nil {
			util.Fatal("failed to init database", "err", err)
		}
		st = gormStore
	} else {
		slog.Warn("no databaseURL configured, using in-memory store; data is lost on restart")
		st = store.NewMemoryStore()
	}

	var revoker store.TokenRevoker
	var mem memory.Store
	if cfg.RedisAddr != "" {
		revoker = store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
		mem = memory.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
	} else {
		slog.Warn("no redisAddr configured, using in-process token revocation and conversation memory")
		revoker = store.NewMemoryTokenRevoker()
		mem = memory.NewInProcStore()
	}
	sessions := store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL, revoker)

	appCfg := app.Config{
		Store:    st,
		Sessions: sessions,
		Memory:   mem,
		Web:      ingest.NewWebFetcher(),
		YouTube:  ingest.NewYouTubeClient(cfg.YouTubeLanguage),
	}
	if cfg.MistralAPIKey != "" {
		mistral := ai.NewMistralClient(cfg.MistralBaseURL, cfg.MistralAPIKey, cfg.MistralGenerationModel, cfg.MistralEmbeddingModel)
		appCfg.Generator = mistral
		appCfg.TitleGenerator = mistral
		appCfg.Vectors = vectorstore.New(st, mistral)
	} else {
		slog.Warn("no mistralAPIKey configured, chat streaming and ingestion are disabled")
	}
	if cfg.GitHubToken != "" {
		appCfg.GitHub = ingest.NewGitHubClient(cfg.GitHubToken)
	} else {
		slog.Warn("no githubToken configured, repository ingestion is disabled")
	}
	if cfg.MinioEndpoint != "" {
		archive, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			util.Fatal("failed to init minio archive", "err", err)
		}
		appCfg.Archive = archive
	} else {
		slog.Warn("no minioEndpoint configured, uploaded files are not archived")
	}
	if cfg.TitleWaitSeconds > 0 {
		appCfg.TitleWait = time.Duration(cfg.TitleWaitSeconds) * time.Second
	}
	appCfg.RetrievalK = cfg.RetrievalK

	appCore, err := app.New(appCfg)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		SigninRateLimitPerMinute: cfg.SigninRateLimitPerMinute,
		MaxUploadBytes:           cfg.MaxUploadBytes,
		TrustedProxies:           cfg.TrustedProxyCIDRs,
	})
	if err != nil {
		util.Fatal("failed to init http server", "err", err)
	}

	addr := ":" + cfg.Port
	// No WriteTimeout: token streams can outlive any fixed deadline.
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	slog.Info("ragchat server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
