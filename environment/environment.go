// Package environment reads service configuration from the process
// environment. The OrFatal variants panic through the global logger so that a
// misconfigured deployment stops at start up.
package environment

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/datatrails/go-datatrails-coordination/logger"
)

const logLevelKey = "LOGLEVEL"

// GetLogLevel returns LOGLEVEL or panics. It runs before the logger exists so
// it must not log.
func GetLogLevel() string {
	value, ok := os.LookupEnv(logLevelKey)
	if !ok {
		panic(errors.New("No loglevel specified"))
	}
	return value
}

// mustLookup returns the value of key, panicking when it is absent.
func mustLookup(key string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		logger.Sugar.Panicf("required environment variable is not defined: %s", key)
	}
	return value
}

// parseOrFatal parses the required key with parse.
func parseOrFatal[T any](key string, parse func(string) (T, error)) T {
	value, err := parse(mustLookup(key))
	if err != nil {
		logger.Sugar.Panicf("environment variable %s has an invalid value: %v", key, err)
	}
	return value
}

// parseWithDefault parses key with parse, returning fallback when the key is
// absent or does not parse.
func parseWithDefault[T any](key string, fallback T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := parse(raw)
	if err != nil {
		logger.Sugar.Infof("`%s' is not valid, defaulting to %v: %v", key, fallback, err)
		return fallback
	}
	return value
}

func GetWithDefault(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return value
}

func GetOrFatal(key string) string {
	return mustLookup(key)
}

func GetIntWithDefault(key string, fallback int) int {
	return parseWithDefault(key, fallback, strconv.Atoi)
}

func GetIntOrFatal(key string) int {
	return parseOrFatal(key, strconv.Atoi)
}

// GetTruthyOrFatal parses key with strconv.ParseBool, so t, true and 1 are
// all truthy.
func GetTruthyOrFatal(key string) bool {
	return parseOrFatal(key, strconv.ParseBool)
}

// GetDurationWithDefault reads an integer count of unit, e.g.
// CACHE_DEFAULT_TTL_SECONDS with unit time.Second. Missing, malformed or non
// positive values return fallback.
func GetDurationWithDefault(key string, unit time.Duration, fallback time.Duration) time.Duration {
	n := parseWithDefault(key, -1, strconv.Atoi)
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * unit
}

// ReadIndirectOrFatal treats the value of varname as a file name and returns
// the trimmed content of that file. Secrets such as the store password are
// mounted this way.
func ReadIndirectOrFatal(varname string) string {
	filename := mustLookup(varname)
	b, err := os.ReadFile(filename)
	if err != nil {
		logger.Sugar.Panicf("error reading file `%s': %s", filename, err)
	}
	return strings.TrimSpace(string(b))
}
