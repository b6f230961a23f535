package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	miniosdk "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/hupe1980/simage"
	"github.com/hupe1980/simage/blobstore"
	miniostore "github.com/hupe1980/simage/blobstore/minio"
	s3store "github.com/hupe1980/simage/blobstore/s3"
	"github.com/hupe1980/simage/catalog"
	"github.com/hupe1980/simage/config"
	"github.com/hupe1980/simage/httpapi"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewServer(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*simage.Service, error) {
	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	optFns := []func(o *simage.Options){
		simage.WithLogger(&simage.Logger{Logger: logger}),
		simage.WithMetrics(simage.NewBasicMetrics()),
		simage.WithNList(cfg.Index.NList),
		simage.WithThreshold(cfg.Index.Threshold),
	}
	if cfg.Index.Dimension > 0 {
		optFns = append(optFns, simage.WithDimension(cfg.Index.Dimension))
	}
	if cfg.Index.IngestPerSecond > 0 {
		burst := cfg.Index.IngestBurst
		if burst < 1 {
			burst = 1
		}
		optFns = append(optFns, simage.WithIngestRateLimit(rate.Limit(cfg.Index.IngestPerSecond), burst))
	}
	if cfg.CatalogPath != "" {
		cat, err := catalog.Open(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		optFns = append(optFns, simage.WithCatalog(cat))
	}

	return simage.New(store, optFns...), nil
}

func newStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendLocal:
		return blobstore.NewLocalStore(cfg.Storage.Dir), nil

	case config.BackendS3:
		loadOpts := []func(*awsconfig.LoadOptions) error{}
		if cfg.Storage.S3.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Storage.S3.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := awss3.NewFromConfig(awsCfg)
		return s3store.NewStore(client, cfg.Storage.S3.Bucket, cfg.Storage.S3.Prefix), nil

	case config.BackendMinio:
		client, err := miniosdk.New(cfg.Storage.Minio.Endpoint, &miniosdk.Options{
			Creds:  credentials.NewStaticV4(cfg.Storage.Minio.AccessKey, cfg.Storage.Minio.SecretKey, ""),
			Secure: cfg.Storage.Minio.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return miniostore.NewStore(client, cfg.Storage.Minio.Bucket, cfg.Storage.Minio.Prefix), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
