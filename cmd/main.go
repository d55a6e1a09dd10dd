package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"chatppt/handler"
	"chatppt/internal/app"
	"chatppt/internal/config"
	"chatppt/internal/integrations/paramstore"
	"chatppt/internal/repository"
	"chatppt/internal/storage"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	if err := cfg.ValidateLambda(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	stateClient, err := repository.NewDynamo(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, cfg.HistoryTTL)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	var files storage.FileStore
	if cfg.StorageBucket != "" {
		files, err = storage.NewS3(awss3.NewFromConfig(awsCfg), cfg.StorageBucket, cfg.StoragePrefix)
	} else {
		files, err = storage.NewLocal(cfg.StorageDir)
	}
	if err != nil {
		slog.Error("failed to create file storage", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	svc, err := app.NewService(cfg, app.Backends{
		Store:  stateClient,
		Files:  files,
		Params: ssmClient,
		Logger: logger,
	})
	if err != nil {
		slog.Error("failed to create pipeline service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(svc, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
