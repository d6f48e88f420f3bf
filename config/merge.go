package config

import (
	"encoding/json"
	"fmt"
)

// Export serializes the full configuration as JSON.
func (c *Config) Export() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("exporting config: %w", err)
	}
	return data, nil
}

// Import deep-merges the given JSON into the current configuration: objects
// merge key-wise, scalars and arrays replace wholesale. Malformed input
// leaves the configuration untouched.
func (c *Config) Import(data []byte) error {
	var incoming map[string]any
	if err := json.Unmarshal(data, &incoming); err != nil {
		return fmt.Errorf("invalid configuration")
	}

	current, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("invalid configuration")
	}
	var base map[string]any
	if err := json.Unmarshal(current, &base); err != nil {
		return fmt.Errorf("invalid configuration")
	}

	merged, err := json.Marshal(deepMerge(base, incoming))
	if err != nil {
		return fmt.Errorf("invalid configuration")
	}

	var next Config
	if err := json.Unmarshal(merged, &next); err != nil {
		return fmt.Errorf("invalid configuration")
	}

	*c = next
	return nil
}

func deepMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if ov, ok := v.(map[string]any); ok {
			if bv, ok := out[k].(map[string]any); ok {
				out[k] = deepMerge(bv, ov)
				continue
			}
		}
		out[k] = v
	}
	return out
}
