package statestore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidDriver is returned for an unknown driver name.
	ErrInvalidDriver = errors.New("statestore: invalid driver")
	// ErrInvalidConfig is returned when a driver is missing required options.
	ErrInvalidConfig = errors.New("statestore: invalid configuration")
)

// Driver selects the backing store for conversation state.
type Driver string

const (
	DriverS3       Driver = "s3"
	DriverDynamoDB Driver = "dynamodb"
	DriverRedis    Driver = "redis"
	DriverMemory   Driver = "memory"
)

// Option is a functional option for configuring a blob driver.
type Option func(*driverConfig)

type driverConfig struct {
	s3Client    s3API
	bucket      string
	dynamoAPI   dynamoAPI
	table       string
	redisClient *redis.Client
	redisTTL    time.Duration
}

// WithS3Client sets the S3 API client for the s3 driver.
func WithS3Client(api s3API) Option {
	return func(c *driverConfig) { c.s3Client = api }
}

// WithBucket sets the bucket name for the s3 driver.
func WithBucket(bucket string) Option {
	return func(c *driverConfig) { c.bucket = bucket }
}

// WithDynamoClient sets the DynamoDB API client for the dynamodb driver.
func WithDynamoClient(api dynamoAPI) Option {
	return func(c *driverConfig) { c.dynamoAPI = api }
}

// WithTable sets the table name for the dynamodb driver.
func WithTable(table string) Option {
	return func(c *driverConfig) { c.table = table }
}

// WithRedisClient sets the Redis client for the redis driver.
func WithRedisClient(client *redis.Client) Option {
	return func(c *driverConfig) { c.redisClient = client }
}

// WithRedisTTL sets the key TTL for the redis driver.
func WithRedisTTL(ttl time.Duration) Option {
	return func(c *driverConfig) { c.redisTTL = ttl }
}

// NewBlob constructs a blob driver of the given kind. Drivers only require
// the options relevant to them; missing required options yield
// ErrInvalidConfig.
func NewBlob(driver Driver, opts ...Option) (Blob, error) {
	cfg := &driverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch driver {
	case DriverS3:
		return newS3Store(cfg.s3Client, cfg.bucket)

	case DriverDynamoDB:
		return newDynamoStore(cfg.dynamoAPI, cfg.table)

	case DriverRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		ttl := cfg.redisTTL
		if ttl <= 0 {
			// State keys are day-scoped; 48h keeps today's records alive
			// across clock skew without accumulating old days.
			ttl = 48 * time.Hour
		}
		return &redisStore{client: cfg.redisClient, ttl: ttl}, nil

	case DriverMemory:
		return NewMemoryStore(), nil

	default:
		return nil, ErrInvalidDriver
	}
}
