package env

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the given dotenv files (".env" when none are given) into the process environment. Variables that
// are already set win over file values, and missing files are not an error.
func Load(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}

	return nil
}

func RequireString(key string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		panic(fmt.Sprintf("environment variable %q is required", key))
	}

	return val
}

func String(key, def string) string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return def
	}

	return val
}

// OneOf returns the value of key if it is one of allowed, def when unset, and panics on any other value.
func OneOf(key, def string, allowed ...string) string {
	val := strings.ToLower(String(key, def))
	if !slices.Contains(allowed, val) {
		panic(fmt.Sprintf("environment variable %q must be one of %v, got %q", key, allowed, val))
	}

	return val
}

func List(key string, def []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return def
	}

	var out []string
	for _, v := range strings.Split(val, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}

	return out
}

func Int(key string, def int) int {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return def
	}

	var val int
	_, err := fmt.Sscanf(valStr, "%d", &val)
	if err != nil {
		return def
	}

	return val
}

func Bool(key string, def bool) bool {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return def
	}

	switch valStr {
	case "true", "1":
		return true
	case "false", "0":
		return false
	}

	return def
}

func Duration(key string, def time.Duration) time.Duration {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return def
	}

	val, err := time.ParseDuration(valStr)
	if err != nil {
		return def
	}

	return val
}
