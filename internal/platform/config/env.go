package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hanko-field/rewards/internal/platform/textutil"
)

// env is the merged key/value view Load reads from: .env file, then the process environment,
// then an explicit map, each layer overriding the previous one.
type env map[string]string

func collectEnv(options loaderOptions) (env, error) {
	fileValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	values := make(env, len(fileValues))
	maps.Copy(values, fileValues)
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if key = strings.TrimSpace(key); ok && key != "" {
				values[key] = value
			}
		}
	}
	maps.Copy(values, options.envMap)
	return values, nil
}

func (e env) str(key, fallback string) string {
	if value := e[key]; value != "" {
		return value
	}
	return fallback
}

func (e env) lower(key, fallback string) string {
	return strings.ToLower(e.str(key, fallback))
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(e[key]); err == nil {
		return d
	}
	return fallback
}

func (e env) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(e[key])); err == nil {
		return n
	}
	return fallback
}

func (e env) boolean(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(e[key])) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

// list splits a comma separated value, dropping blanks. It never returns nil.
func (e env) list(key string) []string {
	out := []string{}
	for _, part := range strings.Split(e[key], ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// pairs reads "name=value,name=value" with lowercased names.
func (e env) pairs(key string) map[string]string {
	return textutil.ParsePairs(e[key])
}

// loadDotEnv reads key/value pairs from path. A missing file is not an error.
func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}
