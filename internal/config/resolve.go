package config

import (
	"fmt"
	"os"
)

// defaultConnpointName is used when nothing else names a connection point —
// arcan's own convention for the implicit, unnamed primary connpoint.
const defaultConnpointName = "arcan"

// ResolveConnpointName determines which connection-point name a client or
// connpoint-serving command should use when none is given positionally.
// Precedence:
//  1. flagName (a name the caller was given explicitly)
//  2. envName (from SHMIF_CONNPOINT)
//  3. .shmifrc walk-up from cwd
//  4. config.toml connpoint_prefix
//  5. defaultConnpointName
func ResolveConnpointName(flagName, envName string) (string, error) {
	if flagName != "" {
		return flagName, nil
	}
	if envName != "" {
		return envName, nil
	}

	cwd, err := os.Getwd()
	if err == nil {
		if rcPath, err := FindShmifrc(cwd); err == nil && rcPath != "" {
			if name, err := ReadShmifrc(rcPath); err == nil {
				return name, nil
			}
		}
	}

	cfg, err := Load()
	if err == nil && cfg.ConnpointPrefix != "" {
		return cfg.ConnpointPrefix, nil
	}

	return defaultConnpointName, nil
}

// ResolveSegmentSizeCap returns the configured cap on allocated segment
// size, in bytes, or 0 (no cap) if none is configured. Nothing in this
// repository calls it: internal/segment's Allocate and Resize do not
// enforce a size cap.
func ResolveSegmentSizeCap() (uint64, error) {
	cfg, err := Load()
	if err != nil {
		return 0, fmt.Errorf("config: resolve segment size cap: %w", err)
	}
	return cfg.SegmentSizeCap, nil
}
