package compose

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Fingerprint
// =============================================================================

// Fingerprint returns a hex sha256 over the canonical JSON form of the
// topology. Services and resources are sorted at load time and encoding/json
// sorts map keys, so equal topologies always hash equally.
func (t *Topology) Fingerprint() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode topology: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// RenderYAML renders the resolved topology as YAML using its JSON field names.
func (t *Topology) RenderYAML() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode topology: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	return yaml.Marshal(doc)
}
