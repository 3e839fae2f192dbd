package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/AtoyanMikhail/sessionauth/internal/cache"
	"github.com/AtoyanMikhail/sessionauth/internal/config"
	"github.com/AtoyanMikhail/sessionauth/internal/logger"
	"github.com/AtoyanMikhail/sessionauth/internal/password"
	"github.com/AtoyanMikhail/sessionauth/internal/repository"
	"github.com/AtoyanMikhail/sessionauth/internal/service"
	"github.com/AtoyanMikhail/sessionauth/internal/token"
	"github.com/AtoyanMikhail/sessionauth/internal/transport/httpapi"
)

func main() {
	l := logger.New(os.Stdout)
	defer func() { _ = l.Sync() }()

	if err := run(l); err != nil {
		l.Fatal("Service stopped with error", logger.Error(err))
	}
}

func run(l logger.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	l.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, cfg.Database, l)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.MigrateOnBoot {
		if err := repository.RunMigrations(db, l); err != nil {
			return err
		}
	}

	redisCache, err := cache.NewRedisCache(ctx, cfg.Redis, l)
	if err != nil {
		return err
	}
	defer redisCache.Close()

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.MemoryKB,
		Time:        cfg.Password.Iterations,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		Workers:     cfg.Password.Workers,
	})
	if err != nil {
		return err
	}

	codec, err := token.NewCodec(token.Config{
		Secret:     []byte(cfg.JWT.SecretKey),
		Algorithm:  cfg.JWT.Algorithm,
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.AccessTokenTTL.Std(),
		RefreshTTL: cfg.JWT.RefreshTokenTTL.Std(),
	})
	if err != nil {
		return err
	}

	tokens := repository.NewRefreshTokenRepository(db, l)
	svc, err := service.NewAuthService(service.Deps{
		Users:   repository.NewUserRepository(db, l),
		Tokens:  tokens,
		Tx:      repository.NewTransactor(db),
		Hasher:  hasher,
		Codec:   codec,
		Limiter: cache.NewLoginLimiter(redisCache, cfg.RateLimit, l),
		Logger:  l,
	}, service.PasswordPolicy{
		MinLength: cfg.Password.MinLength,
		MaxLength: cfg.Password.MaxLength,
	})
	if err != nil {
		return err
	}

	janitor := service.NewTokenJanitor(tokens,
		cfg.Database.CleanupInterval.Std(),
		cfg.Database.TokenRetention.Std(), l)
	go janitor.Run(ctx)

	api := httpapi.NewServer(svc, httpapi.Options{
		Cookie:      cfg.Cookie,
		RefreshTTL:  codec.RefreshTTL(),
		CORSOrigins: cfg.Server.CORSOrigins,
		Checks: map[string]httpapi.Pinger{
			"postgres": httpapi.PingerFunc(db.PingContext),
			"redis":    redisCache,
		},
	}, l)

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("HTTP server listening", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	l.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
