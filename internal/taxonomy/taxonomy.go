// Package taxonomy maps external taxon identifiers to contiguous
// matrix column indices (spec §3, "Taxon identifier mapping") and
// loads the optional NCBI-style names.dmp file used to decorate
// reports (spec §6.3).
package taxonomy

import (
	"bufio"
	"os"
	"strings"

	"github.com/nishad/metamix/internal/errors"
)

// Map is a stable, deterministic bijection between an external string
// identifier and a contiguous column index in [0,T). New identifiers
// are assigned the next index in first-seen order, i.e. the order in
// which callers resolve references (internal/ingest resolves them in
// alignment-stream order); indices are not sorted by identifier.
type Map struct {
	idToIndex map[string]int
	indexToID []string
}

// NewMap returns an empty taxon identifier map.
func NewMap() *Map {
	return &Map{idToIndex: make(map[string]int)}
}

// Index returns the column index for name, assigning a new one if
// name has not been seen before. Reference names of the form
// "ti|<id>|..." contribute only the <id> field; any other string is
// used verbatim.
func (m *Map) Index(name string) int {
	id := extractID(name)
	if idx, ok := m.idToIndex[id]; ok {
		return idx
	}
	idx := len(m.indexToID)
	m.idToIndex[id] = idx
	m.indexToID = append(m.indexToID, id)
	return idx
}

// Lookup returns the column index for name without creating one.
func (m *Map) Lookup(name string) (int, bool) {
	idx, ok := m.idToIndex[extractID(name)]
	return idx, ok
}

// ID returns the external identifier stored at index, or "" if out of range.
func (m *Map) ID(index int) string {
	if index < 0 || index >= len(m.indexToID) {
		return ""
	}
	return m.indexToID[index]
}

// Len returns the number of distinct taxa registered so far.
func (m *Map) Len() int { return len(m.indexToID) }

func extractID(name string) string {
	if strings.HasPrefix(name, "ti|") {
		parts := strings.Split(name, "|")
		if len(parts) >= 2 {
			return parts[1]
		}
	}
	return name
}

// Names is a taxon-id -> scientific-name lookup, populated from an
// NCBI names.dmp-style file (spec §6.3).
type Names map[string]string

// LoadNames parses a pipe-delimited names file. Each line has fields
// `id | name | unique_name | class | ...`; only rows where class is
// "scientific name" populate the returned map.
func LoadNames(path string) (Names, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapMsg(errors.Op("taxonomy.LoadNames"), "failed to open names file", err)
	}
	defer f.Close()

	names := make(Names)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 4 {
			continue
		}
		id := strings.TrimSpace(fields[0])
		name := strings.TrimSpace(fields[1])
		class := strings.TrimSpace(fields[3])
		if class == "scientific name" {
			names[id] = name
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapMsg(errors.Op("taxonomy.LoadNames"), "failed to read names file", err)
	}
	return names, nil
}

// Lookup returns the scientific name for id, or "Unknown" if absent or
// if names is nil (no taxonomy file was supplied).
func (n Names) Lookup(id string) string {
	if n == nil {
		return "Unknown"
	}
	if name, ok := n[id]; ok {
		return name
	}
	return "Unknown"
}
