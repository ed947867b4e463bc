package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProspectorConfig enumerates the naming rules that make a sibling a neighbor.
// The rules are explicit configuration so behavior is reproducible across runs.
type ProspectorConfig struct {
	// CompanionSuffixes are appended to the full file name, e.g. "song.mp3" +
	// ".meta" -> "song.mp3.meta".
	CompanionSuffixes []string
}

func DefaultProspectorConfig() ProspectorConfig {
	return ProspectorConfig{
		CompanionSuffixes: []string{".meta", ".bak"},
	}
}

// Prospector discovers files related to a subject file by naming convention.
// It only ever lists the directory; file content is never read.
type Prospector struct {
	companionSuffixes []string
}

func NewProspector(cfg ProspectorConfig) *Prospector {
	return &Prospector{companionSuffixes: cfg.CompanionSuffixes}
}

// Prospect returns the absolute paths of siblings related to path: same stem
// with a different extension, or the full name plus a companion suffix. The
// result preserves directory listing order and contains no duplicates; no
// neighbors is an empty slice, not an error. Neighbors are best-effort hints;
// a listed sibling may vanish before anyone dereferences it.
func (p *Prospector) Prospect(path string) ([]string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list siblings of %s: %w", path, err)
	}

	neighbors := make([]string, 0)
	seen := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == base {
			continue
		}
		if !p.related(name, base, stem) {
			continue
		}
		full := filepath.Join(dir, name)
		if _, dup := seen[full]; dup {
			continue
		}
		seen[full] = struct{}{}
		neighbors = append(neighbors, full)
	}
	return neighbors, nil
}

func (p *Prospector) related(name, base, stem string) bool {
	if stem != "" && strings.TrimSuffix(name, filepath.Ext(name)) == stem {
		return true
	}
	for _, suffix := range p.companionSuffixes {
		if name == base+suffix {
			return true
		}
	}
	return false
}
