package procscan

import "strings"

// envMarkers are the environment keys a spawned frameserver carries
// (shmifparent.EnvSockFD and the connection-key/path equivalents used by
// the non-authoritative path, spec §6). Their mere presence in a process's
// environ is enough to classify it as a frameserver candidate.
var envMarkers = []string{"ARCAN_SHMIF_FD=", "ARCAN_CONNPATH=", "ARCAN_SOCKIN_FD="}

// ParseEnvironContent splits a /proc/<pid>/environ-style NUL-separated blob
// into a key/value map. Exported for testing.
func ParseEnvironContent(content string) map[string]string {
	out := make(map[string]string)
	for _, kv := range strings.Split(content, "\x00") {
		if kv == "" {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		out[kv[:eq]] = kv[eq+1:]
	}
	return out
}

// looksLikeFrameserver reports whether an environ blob carries any of the
// markers a SHMIF-connected process would have.
func looksLikeFrameserver(content string) bool {
	for _, m := range envMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}
	return false
}

// archetypePatterns maps substrings of a process's comm/argv0 to a declared
// archetype, mirroring the binary-naming convention of the original's
// afsrv_* frameserver family — a naming heuristic, not the authoritative
// archetype, which a connected client only ever declares over the wire via
// wire.EncodeRegister (spec §4.4 "acquire").
var archetypePatterns = []struct {
	substr, archetype string
}{
	{"afsrv_decode", "media"},
	{"afsrv_encode", "encoder"},
	{"afsrv_terminal", "terminal"},
	{"afsrv_net", "network-client"},
	{"afsrv_remoting", "remoting"},
	{"afsrv_game", "game"},
	{"xarcan", "remoting"},
	{"retroarch", "game"},
}

// ClassifyArchetype guesses a frameserver's declared archetype from its
// executable name. Returns "unknown" when nothing matches.
func ClassifyArchetype(comm string) string {
	lower := strings.ToLower(comm)
	for _, p := range archetypePatterns {
		if strings.Contains(lower, p.substr) {
			return p.archetype
		}
	}
	return "unknown"
}
