// Package catalog tracks the frameserver binaries installed under a
// directory (SPEC_FULL §2 domain stack: "internal/catalog watches the
// installed-frameserver directory for hot-added archetype binaries"). It
// has no equivalent in spec.md — the core neither prescribes nor needs a
// binary-discovery mechanism — but cmd/shmifctl spawn wants to resolve an
// archetype name ("media", "terminal", ...) to an executable path instead
// of requiring a full path on every invocation, the way the teacher's
// `versions` package resolves a version name to an install directory.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/arcanshmif/shmifgo/internal/procscan"
)

// Entry is one installed frameserver binary.
type Entry struct {
	Archetype   string    `toml:"archetype" json:"archetype"`
	Path        string    `toml:"path" json:"path"`
	InstalledAt time.Time `toml:"installed_at" json:"installed_at"`
}

// Catalog is the parsed catalog.toml manifest: archetype name to entry,
// mirroring the teacher's versions.Meta one-file-per-concern style but
// collected into a single manifest since frameservers are many small
// binaries rather than one large versioned install tree.
type Catalog struct {
	Entries map[string]Entry `toml:"entries"`
}

// path returns the catalog.toml location inside dir (typically
// config.Home()).
func path(dir string) string { return filepath.Join(dir, "catalog.toml") }

// Load reads catalog.toml from dir. A missing file is not an error — it
// means no frameservers have been cataloged yet.
func Load(dir string) (*Catalog, error) {
	data, err := os.ReadFile(path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return &Catalog{Entries: map[string]Entry{}}, nil
		}
		return nil, fmt.Errorf("catalog: reading catalog.toml: %w", err)
	}
	var c Catalog
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: parsing catalog.toml: %w", err)
	}
	if c.Entries == nil {
		c.Entries = map[string]Entry{}
	}
	return &c, nil
}

// Save writes the catalog back to dir.
func (c *Catalog) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("catalog: creating %s: %w", dir, err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("catalog: marshaling catalog.toml: %w", err)
	}
	return os.WriteFile(path(dir), data, 0o644)
}

// Resolve looks up the binary path registered for an archetype.
func (c *Catalog) Resolve(archetype string) (string, bool) {
	e, ok := c.Entries[archetype]
	if !ok {
		return "", false
	}
	return e.Path, true
}

// Register adds or replaces the entry for a frameserver binary, classifying
// its archetype from the file name the same way procscan classifies a
// running process's comm — the two are deliberately the same heuristic, so
// a cataloged binary and the process it spawns agree on archetype.
func (c *Catalog) Register(binPath string) Entry {
	e := Entry{
		Archetype:   procscan.ClassifyArchetype(filepath.Base(binPath)),
		Path:        binPath,
		InstalledAt: time.Now(),
	}
	if c.Entries == nil {
		c.Entries = map[string]Entry{}
	}
	c.Entries[e.Archetype] = e
	return e
}

// Scan walks binDir and registers every executable regular file it finds,
// replacing whatever was previously cataloged for each archetype it
// encounters (last one wins — same "newest install shadows the old one"
// policy the teacher's versions package uses for "default_version").
func Scan(binDir string) (*Catalog, error) {
	c := &Catalog{Entries: map[string]Entry{}}
	entries, err := os.ReadDir(binDir)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("catalog: reading %s: %w", binDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}
		full := filepath.Join(binDir, e.Name())
		if entry := c.Register(full); entry.Archetype == "unknown" {
			delete(c.Entries, "unknown") // don't catalog binaries we can't classify
		}
	}
	return c, nil
}
