// Command indexsync is the Lambda entry point that mirrors the content
// table's DynamoDB stream into the OpenSearch index.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/internal/config"
	"github.com/vishallnvk/knowlio/internal/metrics"
	"github.com/vishallnvk/knowlio/search"
	"github.com/vishallnvk/knowlio/stream"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateSearch()
	}
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx := context.Background()
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	client, err := search.New(cfg.Search, awsCfg.Credentials)
	if err != nil {
		logger.Error("failed to create search client", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	h := stream.NewHandler(client, entity.KindContent,
		stream.WithLogger(logger),
		stream.WithMetrics(metrics.New(reg)),
	)
	pusher := metrics.NewPusher(cfg.PushGateway, "knowlio_indexsync", os.Getenv("AWS_LAMBDA_LOG_STREAM_NAME"), reg, logger)
	logger.Info("indexsync ready", "index", client.Index(), "service", client.Service(), "pushMetrics", pusher != nil)
	lambda.Start(func(ctx context.Context, event events.DynamoDBEvent) error {
		defer pusher.Flush(ctx)
		return h.HandleSync(ctx, event)
	})
}
