package section

import (
	"encoding/json"
	"fmt"
)

// exportVersion is the persisted document version this build reads and
// writes.
const exportVersion = 1

// exportDoc is the persisted registry format: the sections plus an explicit
// order listing exactly their ids.
type exportDoc struct {
	Version  int       `json:"version"`
	Sections []Section `json:"sections"`
	Order    []string  `json:"order"`
}

// Export serializes the full registry and its order as one versioned JSON
// document.
func (m *Manager) Export() ([]byte, error) {
	m.mu.Lock()
	doc := exportDoc{
		Version:  exportVersion,
		Sections: make([]Section, len(m.sections)),
		Order:    make([]string, len(m.sections)),
	}
	for i, s := range m.sections {
		doc.Sections[i] = s.clone()
		doc.Order[i] = s.ID
	}
	m.mu.Unlock()

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("section: export: %w", err)
	}
	return out, nil
}

// ParseExport parses an export document and returns its sections in document
// order, without touching any registry. The document must carry the
// supported version, every section needs a unique id, and the order list
// must name each id exactly once. Import applies the result; callers that
// only want to check a file stop here.
func ParseExport(data []byte) ([]Section, error) {
	sections, err := parseExportDoc(data)
	if err != nil {
		return nil, fmt.Errorf("section: %w", err)
	}
	return sections, nil
}

func parseExportDoc(data []byte) ([]Section, error) {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if doc.Version != exportVersion {
		return nil, fmt.Errorf("unsupported version %d (want %d)", doc.Version, exportVersion)
	}
	if len(doc.Order) != len(doc.Sections) {
		return nil, fmt.Errorf("order lists %d ids for %d sections", len(doc.Order), len(doc.Sections))
	}

	byID := make(map[string]Section, len(doc.Sections))
	for i, s := range doc.Sections {
		if s.ID == "" {
			return nil, fmt.Errorf("section %d has no id", i)
		}
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate section id %q", s.ID)
		}
		byID[s.ID] = s
	}

	next := make([]Section, 0, len(doc.Order))
	seen := make(map[string]bool, len(doc.Order))
	for _, id := range doc.Order {
		s, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("order references unknown id %q", id)
		}
		if seen[id] {
			return nil, fmt.Errorf("order repeats id %q", id)
		}
		seen[id] = true
		next = append(next, s.clone())
	}
	return next, nil
}

// Import replaces the registry with the document's sections, ordered by its
// order list. The replacement is build-then-swap: the document is fully
// parsed and validated before the live registry is touched, so a failed
// import leaves the manager exactly as it was. Section ids are preserved;
// the current section survives only if its id exists in the imported set.
func (m *Manager) Import(data []byte) error {
	next, err := parseExportDoc(data)
	if err != nil {
		return fmt.Errorf("section: import: %w", err)
	}

	seen := make(map[string]bool, len(next))
	for _, s := range next {
		seen[s.ID] = true
	}

	m.mu.Lock()
	m.sections = next
	if m.current != "" && !seen[m.current] {
		m.current = ""
	}
	m.cancelAdvanceLocked()
	m.mu.Unlock()

	m.notify()
	return nil
}
