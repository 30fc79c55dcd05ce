package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/deadlock-vault/internal/application/deadman"
	"github.com/deadlock-vault/internal/application/dispatch"
	"github.com/deadlock-vault/internal/application/mutate"
	"github.com/deadlock-vault/internal/application/nominee"
	"github.com/deadlock-vault/internal/application/vault"
	"github.com/deadlock-vault/internal/config"
	"github.com/deadlock-vault/internal/domain"
	"github.com/deadlock-vault/internal/infrastructure/dynamo"
	"github.com/deadlock-vault/internal/infrastructure/escrow"
	jwtinfra "github.com/deadlock-vault/internal/infrastructure/jwt"
	"github.com/deadlock-vault/internal/infrastructure/memstore"
	"github.com/deadlock-vault/internal/infrastructure/notify"
	"github.com/deadlock-vault/internal/infrastructure/postgres"
	s3infra "github.com/deadlock-vault/internal/infrastructure/s3"
	"github.com/deadlock-vault/internal/infrastructure/smtp"
	"github.com/deadlock-vault/internal/infrastructure/sns"
	"github.com/deadlock-vault/internal/pkg/keylock"
	transporthttp "github.com/deadlock-vault/internal/transport/http"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// AWS config is only needed for DynamoDB, S3 and SNS.
	var awsCfg aws.Config
	if cfg.VaultStore == "dynamo" || cfg.S3Enabled || cfg.SNSTopicARN != "" {
		c, err := dynamo.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return err
		}
		awsCfg = c
	}

	store, closeStore, err := openVaultStore(ctx, cfg, awsCfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Escrow (an empty key leaves it unconfigured; share operations then fail).
	esc, err := escrow.New(cfg.MasterShareEncryptionKey)
	if err != nil {
		return fmt.Errorf("share escrow: %w", err)
	}
	if !esc.Configured() {
		log.Println("WARN: MASTER_SHARE_ENCRYPTION_KEY not set, share escrow disabled")
	}

	// JWT provider is optional; owner routes answer 401 without it.
	var verifier *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		verifier = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	var blobs domain.BlobStore = memstore.NewBlobs()
	if cfg.S3Enabled {
		blobs = s3infra.NewStore(s3infra.NewClient(awsCfg, cfg), cfg.AWSRegion)
	} else {
		log.Println("WARN: S3 disabled, vault files are kept in memory")
	}

	locks := keylock.New()
	mut := mutate.New(store, locks, nil)
	disp := dispatch.New(dispatch.Deps{
		Store:   store,
		Mutator: mut,
		Escrow:  esc,
		Sink:    buildSink(cfg, awsCfg),
		Locks:   locks,
	})
	evaluator := deadman.New(deadman.Deps{Store: store, Mutator: mut, Dispatcher: disp})

	deps := &transporthttp.Deps{
		Vaults: vault.NewService(vault.ServiceDeps{
			Store:        store,
			Mutator:      mut,
			Escrow:       esc,
			Dispatcher:   disp,
			Blobs:        blobs,
			BucketPrefix: cfg.S3BucketPrefix,
			Locks:        locks,
		}),
		Nominees: nominee.NewService(nominee.ServiceDeps{Store: store, Mutator: mut, Escrow: esc, Blobs: blobs}),
		Sweeper:  evaluator,
	}
	if verifier != nil {
		deps.Verifier = verifier
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      transporthttp.NewRouter(ctx, cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Server starting on :%s (env=%s, store=%s)", cfg.AppPort, cfg.AppEnv, cfg.VaultStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Printf("Deadman monitor every %s", cfg.DeadmanInterval)
		evaluator.Run(gCtx, cfg.DeadmanInterval)
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			log.Printf("Received %s, shutting down...", sig)
		case <-gCtx.Done():
		}
		cancel()

		shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("forced shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Println("Server stopped")
	return nil
}

func openVaultStore(ctx context.Context, cfg *config.Config, awsCfg aws.Config) (domain.VaultStore, func(), error) {
	noop := func() {}
	switch cfg.VaultStore {
	case "dynamo":
		client := dynamo.NewClient(awsCfg, cfg)
		// Bootstrap DynamoDB tables (creates them if they don't exist).
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		return dynamo.NewVaultRepo(client, cfg.DynamoTables), noop, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("VAULT_STORE=postgres requires DATABASE_URL")
		}
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewVaultRepo(db), func() { closeDB(db) }, nil
	case "memory":
		log.Println("WARN: in-memory vault store, data is lost on restart")
		return memstore.NewVaultRepo(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown VAULT_STORE %q", cfg.VaultStore)
	}
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		log.Printf("WARN: close database: %v", err)
	}
}

// buildSink wires SMTP and SNS when configured and falls back to logging.
func buildSink(cfg *config.Config, awsCfg aws.Config) domain.NotificationSink {
	var sinks []domain.NotificationSink
	if cfg.SMTPHost != "" {
		sinks = append(sinks, smtp.NewNomineeNotifier(smtp.NewMailer(cfg), cfg.PublicBaseURL))
	}
	if cfg.SNSTopicARN != "" {
		sinks = append(sinks, sns.NewPublisher(sns.NewClient(awsCfg, cfg.SNSRegion), cfg.SNSTopicARN))
	}
	if len(sinks) == 0 {
		log.Println("WARN: no SMTP_HOST or SNS_TOPIC_ARN, nominee notices are only logged")
		return notify.LogSink{}
	}
	return notify.NewFanout(sinks...)
}
