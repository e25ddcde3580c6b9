package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/isdelr/usermgmt-be/internal/access"
	"github.com/isdelr/usermgmt-be/internal/api"
	"github.com/isdelr/usermgmt-be/internal/auth"
	"github.com/isdelr/usermgmt-be/internal/config"
	"github.com/isdelr/usermgmt-be/internal/database"
	"github.com/isdelr/usermgmt-be/internal/logger"
	"github.com/isdelr/usermgmt-be/internal/repository"
	"github.com/isdelr/usermgmt-be/internal/services"
	"github.com/isdelr/usermgmt-be/internal/storage"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, cfg.IsProduction())

	ctx := context.Background()

	// Set up credential store
	users, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("Failed to initialize credential store")
	}
	defer closeStore()

	// Set up auth components
	hasher, err := auth.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize password hasher")
	}
	tokens, err := auth.NewTokenService([]byte(cfg.JWTSecret), cfg.JWTExpiration)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize token service")
	}
	policy, err := access.NewPolicy(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to compile access policy")
	}

	// Set up image store
	var images storage.ImageStore
	if cfg.ImageStoreEnabled() {
		images, err = storage.NewS3ImageStore(ctx, storage.S3Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
			Timeout:       cfg.UploadTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize image store")
		}
	} else {
		log.Warn().Msg("S3_BUCKET is not set, profile image uploads are disabled")
	}

	// Set up services
	userService, err := services.NewUserService(services.UserServiceConfig{
		Users:         users,
		Hasher:        hasher,
		Tokens:        tokens,
		Policy:        policy,
		Images:        images,
		MobileRegion:  cfg.MobileDefaultRegion,
		MaxImageBytes: cfg.UploadMaxBytes,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize user service")
	}

	if cfg.AdminSeedEnabled() {
		created, err := userService.SeedAdmin(ctx, services.AdminSeed{
			Username: cfg.AdminUsername,
			Email:    cfg.AdminEmail,
			Password: cfg.AdminPassword,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to seed admin account")
		}
		if created {
			log.Info().Str("email", cfg.AdminEmail).Msg("Created bootstrap admin account")
		}
	}

	var lookup auth.AccountLookup
	if cfg.RecheckActive {
		lookup = users
	}
	gate := auth.NewGate(tokens, lookup)

	// Set up router
	router := api.NewRouter(api.RouterConfig{
		Logger:         log.Logger,
		AllowedOrigins: cfg.AllowedOrigins(),
		MaxImageBytes:  cfg.UploadMaxBytes,
	}, gate, userService)

	// Set up server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Msg("Server starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe()")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}

// openStore connects the configured credential store backend.
func openStore(ctx context.Context, cfg *config.Config) (repository.UserRepository, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		db, err := database.New(cfg.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("apply database migrations: %w", err)
		}
		return repository.NewSQLiteUserRepository(db), func() { db.Close() }, nil

	default:
		client, err := database.NewMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		disconnect := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to disconnect from MongoDB")
			}
		}
		repo := repository.NewMongoUserRepository(client.Database(cfg.MongoDatabase).Collection("users"))
		if err := repo.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return repo, disconnect, nil
	}
}
