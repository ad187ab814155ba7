// Package config holds the build-wide knobs threaded through every
// subsystem: dispatcher stage defaults, coordination timeouts and TLS
// settings, and content-session retry policy. Generalized from spok's
// flat app.Options struct plus its .env auto-load step (spok's
// cli/app.App.setup).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// BuildConfig is the full set of tunables for one build invocation.
type BuildConfig struct {
	Verbose bool
	Quiet   bool

	// Dispatcher (§4.3)
	InitialMaxParallel map[string]int
	AdaptiveIO         bool
	PerfTickInterval   time.Duration

	// Distributed coordination (§4.4)
	CallTimeout           time.Duration
	AttachTimeout         time.Duration
	ReconnectionBudget    time.Duration
	MaxCallAttempts       int
	TLSEnabled            bool
	TLSServerNameOverride string
	BearerToken           string

	// Content session (§4.5)
	MaxSessionAttempts int
	IgnorePinThreshold time.Duration
	PinInlineThreshold time.Duration
	GateConcurrency    int64
}

// Default returns the spec-literal baseline configuration.
func Default() BuildConfig {
	return BuildConfig{
		InitialMaxParallel: map[string]int{},
		AdaptiveIO:         true,
		PerfTickInterval:   time.Second,
		CallTimeout:        30 * time.Second,
		AttachTimeout:      2 * time.Minute,
		ReconnectionBudget: 5 * time.Minute,
		MaxCallAttempts:    3,
		MaxSessionAttempts: 4,
		IgnorePinThreshold: time.Hour,
		PinInlineThreshold: 30 * time.Second,
		GateConcurrency:    64,
	}
}

// LoadDotEnv mirrors spok's auto-load: if a .env file sits next to root
// (the build root directory, analogous to the spokfile's directory), its
// variables are loaded into os.Environ before the build begins. Absence
// of the file is not an error.
func LoadDotEnv(root string) error {
	dotenvPath := filepath.Join(root, ".env")
	if _, err := os.Stat(dotenvPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(dotenvPath); err != nil {
		return fmt.Errorf("config: loading .env file at %s: %w", dotenvPath, err)
	}
	return nil
}
