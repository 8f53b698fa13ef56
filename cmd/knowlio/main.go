// Command knowlio is the Lambda entry point of the entity API. Each
// invocation carries one processor event.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vishallnvk/knowlio/cursor"
	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/handler"
	"github.com/vishallnvk/knowlio/internal/config"
	"github.com/vishallnvk/knowlio/internal/metrics"
	"github.com/vishallnvk/knowlio/repository"
	"github.com/vishallnvk/knowlio/schema"
	"github.com/vishallnvk/knowlio/store"
)

func main() {
	// A missing .env is normal outside local runs.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateAPI()
	}
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	d, err := setup(context.Background(), cfg, logger, reg)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	pusher := metrics.NewPusher(cfg.PushGateway, "knowlio", os.Getenv("AWS_LAMBDA_LOG_STREAM_NAME"), reg, logger)
	logger.Info("knowlio ready", "tablePrefix", cfg.Store.TablePrefix, "strictUniqueness", cfg.StrictUniqueness, "pushMetrics", pusher != nil)
	lambda.Start(metrics.Wrap(pusher, d.Handle))
}

func setup(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*handler.Dispatcher, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		// The repository retry executor owns the retry policy.
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	schemas, err := registry(cfg)
	if err != nil {
		return nil, err
	}
	codec, err := cursor.New([]byte(cfg.CursorSecret))
	if err != nil {
		return nil, err
	}
	st := store.New(dynamodb.NewFromConfig(awsCfg), cfg.Store)
	m := metrics.New(reg)

	repo := func(kind entity.Kind) (*repository.Repository, error) {
		s, ok := schemas.Schema(kind)
		if !ok {
			return nil, fmt.Errorf("schema registry has no kind %s", kind)
		}
		return repository.New(st, s, codec,
			repository.WithLogger(logger.With("kind", string(kind))),
			repository.WithMetrics(m),
			repository.WithStrictUniqueness(cfg.StrictUniqueness),
		)
	}

	var repos handler.Repositories
	for kind, slot := range map[entity.Kind]*handler.Entities{
		entity.KindUser:     &repos.Users,
		entity.KindContent:  &repos.Content,
		entity.KindLicense:  &repos.Licenses,
		entity.KindUsageLog: &repos.UsageLogs,
	} {
		r, err := repo(kind)
		if err != nil {
			return nil, err
		}
		*slot = r
	}
	return handler.New(repos, handler.WithLogger(logger))
}

func registry(cfg config.Config) (*schema.Registry, error) {
	if cfg.SchemaFile != "" {
		return schema.LoadFile(cfg.SchemaFile)
	}
	return schema.Default()
}
