package domain

import (
	"encoding/json"
	"fmt"
)

// Manifest indexes stored responses: Files[i] was submitted by Clients[i] in Modes[i].
type Manifest struct {
	Files   []string `json:"files"`
	Clients []string `json:"clients"`
	Modes   []string `json:"modes"`
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Check(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Check validates that the three columns line up.
func (m *Manifest) Check() error {
	if len(m.Files) != len(m.Clients) || len(m.Files) != len(m.Modes) {
		return fmt.Errorf("corrupt index: %d files, %d clients, %d modes",
			len(m.Files), len(m.Clients), len(m.Modes))
	}
	return nil
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.Files)
}

// Add appends an entry, replacing an existing entry for the same client.
func (m *Manifest) Add(client, file, mode string) {
	for i, c := range m.Clients {
		if c == client {
			m.Files[i] = file
			m.Modes[i] = mode
			return
		}
	}
	m.Files = append(m.Files, file)
	m.Clients = append(m.Clients, client)
	m.Modes = append(m.Modes, mode)
}

// MergeManifests combines manifests keyed by client. A later manifest's
// entry replaces an earlier one; entries keep first-appearance order.
func MergeManifests(manifests ...*Manifest) (*Manifest, error) {
	out := &Manifest{}
	for _, m := range manifests {
		if err := m.Check(); err != nil {
			return nil, err
		}
		for i, c := range m.Clients {
			out.Add(c, m.Files[i], m.Modes[i])
		}
	}
	return out, nil
}

// SaveMode marks a partial "save for later" submission. A saved entry is
// only replaced by a newer save, never by another mode.
const SaveMode = "save"

// Reindex records file as the client's current submission, honoring SaveMode.
// It reports whether the manifest changed.
func (m *Manifest) Reindex(client, file, mode string) bool {
	for i, c := range m.Clients {
		if c != client {
			continue
		}
		if m.Modes[i] == SaveMode && mode != SaveMode {
			return false
		}
		m.Files[i] = file
		m.Modes[i] = mode
		return true
	}
	m.Files = append(m.Files, file)
	m.Clients = append(m.Clients, client)
	m.Modes = append(m.Modes, mode)
	return true
}
