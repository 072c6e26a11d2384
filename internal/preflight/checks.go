// SPDX-License-Identifier: MPL-2.0

package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"

	"github.com/inkboard/inkboot/internal/config"
)

type (
	// DatabaseCheck connects to Postgres and runs SELECT 1.
	DatabaseCheck struct {
		URL       string
		ForceIPv4 bool
	}

	// CacheCheck sends PING to Redis.
	CacheCheck struct {
		URL string
	}

	// StorageCheck makes sure the object storage bucket exists, creating it
	// when missing.
	StorageCheck struct {
		Endpoint  string
		AccessKey string
		SecretKey string
		Bucket    string
		Secure    bool
	}

	// SecretCheck signs and verifies a token with SECRET_KEY and ALGORITHM
	// from Env, and checks that the token lifetimes are positive integers.
	SecretCheck struct {
		Env config.ServiceEnv
	}
)

// FromEnv returns the checks enabled by cfg for the dependencies env configures.
// The database and signing checks always run when enabled; the cache and
// storage checks only when their endpoint variable is set.
func FromEnv(cfg config.PreflightConfig, env config.ServiceEnv) []Check {
	if !cfg.Enabled {
		return nil
	}
	var checks []Check
	if cfg.Database {
		checks = append(checks, DatabaseCheck{URL: env.Get(config.EnvDatabaseURL), ForceIPv4: cfg.ForceIPv4})
	}
	if cfg.Cache && env.Get(config.EnvRedisURL) != "" {
		checks = append(checks, CacheCheck{URL: env.Get(config.EnvRedisURL)})
	}
	if cfg.Storage && env.Get(config.EnvMinioEndpoint) != "" {
		checks = append(checks, StorageCheck{
			Endpoint:  env.Get(config.EnvMinioEndpoint),
			AccessKey: env.Get(config.EnvMinioAccessKey),
			SecretKey: env.Get(config.EnvMinioSecretKey),
			Bucket:    env.Get(config.EnvMinioBucketName),
			Secure:    env.Bool(config.EnvMinioSecure),
		})
	}
	if cfg.Secret {
		checks = append(checks, SecretCheck{Env: env})
	}
	return checks
}

// Name implements Check.
func (DatabaseCheck) Name() string { return "database" }

// Run implements Check.
func (c DatabaseCheck) Run(ctx context.Context) error {
	if strings.TrimSpace(c.URL) == "" {
		return Permanent(fmt.Errorf("%w: %s", config.ErrMissingVariable, config.EnvDatabaseURL))
	}
	dsn, err := NormalizeDSN(c.URL, c.ForceIPv4)
	if err != nil {
		return Permanent(err)
	}
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return Permanent(fmt.Errorf("parse %s: %w", Redact(dsn), err))
	}
	return PingDatabase(ctx, connCfg)
}

// PingDatabase opens one connection with cfg and runs SELECT 1.
func PingDatabase(ctx context.Context, cfg *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("SELECT 1: %w", err)
	}
	return nil
}

// Name implements Check.
func (CacheCheck) Name() string { return "cache" }

// Run implements Check.
func (c CacheCheck) Run(ctx context.Context) error {
	client, err := ConnectRedis(c.URL)
	if err != nil {
		return Permanent(err)
	}
	defer func() { _ = client.Close() }()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("PING: %w", err)
	}
	return nil
}

// ConnectRedis creates a client from a redis:// or rediss:// URL, or a bare host:port.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// Name implements Check.
func (StorageCheck) Name() string { return "object storage" }

// Run implements Check.
func (c StorageCheck) Run(ctx context.Context) error {
	if c.Bucket == "" {
		return Permanent(fmt.Errorf("%w: %s", config.ErrMissingVariable, config.EnvMinioBucketName))
	}
	client, err := minio.New(StorageEndpoint(c.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: c.Secure,
	})
	if err != nil {
		return Permanent(fmt.Errorf("create object storage client: %w", err))
	}

	exists, err := client.BucketExists(ctx, c.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", c.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, c.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", c.Bucket, err)
	}
	return nil
}

// StorageEndpoint strips a URL scheme from a storage endpoint.
func StorageEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimSuffix(endpoint, "/")
}

// Name implements Check.
func (SecretCheck) Name() string { return "signing secret" }

// Run implements Check. Every failure is permanent.
func (c SecretCheck) Run(context.Context) error {
	secret, err := c.Env.Require(config.EnvSecretKey)
	if err != nil {
		return Permanent(err)
	}
	alg := c.Env.Get(config.EnvAlgorithm)
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return Permanent(fmt.Errorf("%s %q is not an HMAC signing algorithm (HS256, HS384, HS512)", config.EnvAlgorithm, alg))
	}
	access, err := c.Env.PositiveInt(config.EnvAccessTokenMinutes)
	if err != nil {
		return Permanent(err)
	}
	if _, err := c.Env.PositiveInt(config.EnvRefreshTokenDays); err != nil {
		return Permanent(err)
	}

	now := time.Now()
	signed, err := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   "inkboot-preflight",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(access) * time.Minute)),
	}).SignedString([]byte(secret))
	if err != nil {
		return Permanent(fmt.Errorf("sign test token: %w", err))
	}

	parsed, err := jwt.ParseWithClaims(signed, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{method.Alg()}))
	if err != nil {
		return Permanent(fmt.Errorf("verify test token: %w", err))
	}
	if !parsed.Valid {
		return Permanent(errors.New("verify test token: token is not valid"))
	}
	return nil
}
