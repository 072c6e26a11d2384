// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/subosito/gotenv"
)

// Variables consumed by the application and the migration tool. inkboot reads
// some of them for preflight checks but always passes them through unchanged.
const (
	EnvDatabaseURL         = "DATABASE_URL"
	EnvRedisURL            = "REDIS_URL"
	EnvSecretKey           = "SECRET_KEY"
	EnvAlgorithm           = "ALGORITHM"
	EnvAccessTokenMinutes  = "ACCESS_TOKEN_EXPIRE_MINUTES"
	EnvRefreshTokenDays    = "REFRESH_TOKEN_EXPIRE_DAYS"
	EnvAppName             = "APP_NAME"
	EnvAppVersion          = "APP_VERSION"
	EnvMinioEndpoint       = "MINIO_ENDPOINT"
	EnvMinioAccessKey      = "MINIO_ACCESS_KEY"
	EnvMinioSecretKey      = "MINIO_SECRET_KEY"
	EnvMinioBucketName     = "MINIO_BUCKET_NAME"
	EnvMinioSecure         = "MINIO_SECURE"
	envVirtualEnvIndicator = "VIRTUAL_ENV"
)

// ErrMissingVariable is returned by ServiceEnv.Require.
var ErrMissingVariable = errors.New("missing environment variable")

// ServiceEnv is the environment handed to child processes: the process
// environment overlaid on the optional dotenv file.
type ServiceEnv map[string]string

// LoadServiceEnv reads envFile (relative to projectDir, missing is fine) and
// overlays environ on top of it. Process values always win.
func LoadServiceEnv(projectDir, envFile string, environ []string) (ServiceEnv, error) {
	env := make(ServiceEnv, len(environ))

	if envFile != "" {
		path := envFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(projectDir, filepath.FromSlash(path))
		}
		f, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to open env file '%s': %w", envFile, err)
		default:
			parsed, parseErr := gotenv.StrictParse(f)
			_ = f.Close()
			if parseErr != nil {
				return nil, fmt.Errorf("failed to parse env file '%s': %w", envFile, parseErr)
			}
			for k, v := range parsed {
				env[k] = v
			}
		}
	}

	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}

	return env, nil
}

// Get returns the value of key, or "".
func (e ServiceEnv) Get(key string) string { return e[key] }

// Require returns the value of key or an error wrapping ErrMissingVariable.
func (e ServiceEnv) Require(key string) (string, error) {
	v := strings.TrimSpace(e[key])
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingVariable, key)
	}
	return v, nil
}

// PositiveInt parses key as an integer greater than zero.
func (e ServiceEnv) PositiveInt(key string) (int, error) {
	raw, err := e.Require(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: must be greater than zero, got %d", key, n)
	}
	return n, nil
}

// Bool parses key leniently: 1, true, yes and on are true; anything else is false.
func (e ServiceEnv) Bool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(e[key])) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// InVirtualEnv reports whether the caller already runs inside an activated environment.
func (e ServiceEnv) InVirtualEnv() bool { return e[envVirtualEnvIndicator] != "" }

// Environ renders the env as sorted KEY=VALUE pairs for exec.Cmd.Env.
func (e ServiceEnv) Environ() []string {
	out := make([]string, 0, len(e))
	for k, v := range e {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}

// With returns a copy of e with overrides applied.
func (e ServiceEnv) With(overrides map[string]string) ServiceEnv {
	out := make(ServiceEnv, len(e)+len(overrides))
	for k, v := range e {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
