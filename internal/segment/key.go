package segment

import "github.com/google/uuid"

// GenerateKey produces a fresh preshared connection key for a connection
// point that wasn't handed one explicitly (spec §4.6's "non-authoritative"
// connpoint still needs some key to gate entry with). A random UUID gives
// the same guess-resistance as the fixed-length key field
// internal/connpoint compares against, without this package needing its own
// random source.
func GenerateKey() string {
	return uuid.New().String()
}
