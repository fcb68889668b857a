package shared

import (
	"fmt"
	"os"
	"strconv"
)

const Version = "0.1.0"

type GetenvParser[T any] func(raw string) (T, error)

func GetenvString(raw string) (string, error) {
	return raw, nil
}

func GetenvInt(raw string) (int, error) {
	return strconv.Atoi(raw)
}

func GetenvBool(raw string) (bool, error) {
	return strconv.ParseBool(raw)
}

// Getenv reads and parses an environment variable. When the variable is
// unset, required controls whether that is an error or the fallback applies.
func Getenv[T any](parse GetenvParser[T], key string, required bool, fallback T) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		if required {
			return fallback, fmt.Errorf("required environment variable %s is not set", key)
		}
		return fallback, nil
	}
	value, err := parse(raw)
	if err != nil {
		return fallback, fmt.Errorf("parsing environment variable %s: %w", key, err)
	}
	return value, nil
}

func MustGetenv[T any](parse GetenvParser[T], key string, required bool, fallback T) T {
	value, err := Getenv(parse, key, required, fallback)
	if err != nil {
		panic(err)
	}
	return value
}
