// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package discover

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/neurostuff/ingest-engine/pkg/types"
)

// Manifest is a YAML worklist of candidates used when the find stage is
// skipped: operators can hand-pick identifiers to ingest.
type Manifest struct {
	Identifiers []types.StudyCandidate `yaml:"identifiers"`
}

// LoadManifest reads a manifest file and returns its candidates. Entries
// with no identifier at all are rejected rather than silently dropped.
func LoadManifest(path string) ([]types.StudyCandidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	for i, c := range m.Identifiers {
		if !c.HasIdentifier() {
			return nil, fmt.Errorf("manifest %s: entry %d has no pmid, pmcid, or doi", path, i)
		}
		if m.Identifiers[i].Source == "" {
			m.Identifiers[i].Source = "manifest"
		}
	}
	return m.Identifiers, nil
}
