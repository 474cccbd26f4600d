package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"agenda-agent/handler"
	"agenda-agent/internal/guard"
	"agenda-agent/internal/hubs"
	"agenda-agent/internal/integrations/openai"
	"agenda-agent/internal/integrations/paramstore"
	"agenda-agent/internal/statestore"
	"agenda-agent/internal/usecase"
	"agenda-agent/internal/workflow"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	paramPrefix := mustEnv("PARAM_PREFIX")
	hostTenantID := mustEnv("HOST_TENANT_ID")
	guestTenantID := os.Getenv("GUEST_TENANT_ID")
	hubCities := mustEnv("HUB_CITIES")
	workflowEndpoint := mustEnv("WORKFLOW_ENDPOINT")
	stateDriver := envDefault("STATE_DRIVER", "s3")
	openaiModel := envDefault("OPENAI_MODEL", "gpt-4o")
	staleAfter := time.Duration(envInt("STALE_AFTER_MINUTES", 10)) * time.Minute
	guardTTL := time.Duration(envInt("GUARD_TTL_SECONDS", 60)) * time.Second

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}

	blob, err := newBlob(statestore.Driver(stateDriver), cfg)
	if err != nil {
		slog.Error("failed to create state store", "driver", stateDriver, "err", err)
		os.Exit(1)
	}
	stateManager, err := statestore.NewManager(blob, slog.Default())
	if err != nil {
		slog.Error("failed to create state manager", "err", err)
		os.Exit(1)
	}

	guardOpts := []guard.Option{guard.WithTTL(guardTTL)}
	if r, ok := blob.(guard.Remediator); ok {
		guardOpts = append(guardOpts, guard.WithRemediator(r))
	}
	storeGuard, err := guard.New(blob, slog.Default(), guardOpts...)
	if err != nil {
		slog.Error("failed to create store guard", "err", err)
		os.Exit(1)
	}

	openaiOpts := []openai.Option{openai.WithModel(openaiModel)}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(base))
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix, openaiOpts...)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	catalog := hubs.ParseCatalog(hubCities)
	if catalog.Len() == 0 {
		slog.Error("no hubs configured", "hub_cities", hubCities)
		os.Exit(1)
	}
	resolver, err := hubs.NewResolver(catalog, openaiClient, slog.Default())
	if err != nil {
		slog.Error("failed to create hub resolver", "err", err)
		os.Exit(1)
	}

	engine, err := workflow.NewClient(workflowEndpoint, ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create workflow client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	dispatcher, err := usecase.NewDispatcher(usecase.Config{
		HostTenantID:  hostTenantID,
		GuestTenantID: guestTenantID,
		StaleAfter:    staleAfter,
	}, stateManager, resolver, engine, storeGuard, slog.Default())
	if err != nil {
		slog.Error("failed to create dispatcher", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(dispatcher, slog.Default())
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func newBlob(driver statestore.Driver, cfg aws.Config) (statestore.Blob, error) {
	switch driver {
	case statestore.DriverS3:
		return statestore.NewBlob(driver,
			statestore.WithS3Client(awss3.NewFromConfig(cfg)),
			statestore.WithBucket(mustEnv("STATE_BUCKET")),
		)
	case statestore.DriverDynamoDB:
		return statestore.NewBlob(driver,
			statestore.WithDynamoClient(awsdynamodb.NewFromConfig(cfg)),
			statestore.WithTable(mustEnv("STATE_TABLE")),
		)
	case statestore.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: mustEnv("REDIS_ADDR")})
		return statestore.NewBlob(driver, statestore.WithRedisClient(client))
	default:
		return statestore.NewBlob(driver)
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
