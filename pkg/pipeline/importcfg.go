package pipeline

import (
	"encoding/json"
	"fmt"
)

// WorkerConfig names a worker taking part in an imported pipeline.
type WorkerConfig struct {
	Name   string `json:"name"`
	Remote bool   `json:"remote"`
}

// ManagerConfig carries the cluster manager settings of an imported pipeline.
type ManagerConfig struct {
	Logdir string `json:"logdir"`
}

// ImportConfig is the structured form of a pipeline import blob. Nodes are
// registry names; Adj pairs reference those names.
type ImportConfig struct {
	Workers       []WorkerConfig      `json:"workers"`
	Nodes         []string            `json:"nodes"`
	Adj           [][2]string         `json:"adj"`
	ManagerConfig ManagerConfig       `json:"manager_config"`
	Mappings      map[string][]string `json:"mappings"`
}

// Encode renders the config as the opaque string sent to the import endpoint.
func (c *ImportConfig) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode import config: %w", err)
	}
	return string(data), nil
}

// DecodeImportConfig parses an import blob produced by Encode.
func DecodeImportConfig(blob string) (*ImportConfig, error) {
	var c ImportConfig
	if err := json.Unmarshal([]byte(blob), &c); err != nil {
		return nil, fmt.Errorf("decode import config: %w", err)
	}
	known := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		known[n] = true
	}
	for _, pair := range c.Adj {
		for _, end := range pair {
			if !known[end] {
				return nil, fmt.Errorf("decode import config: adjacency references unknown node %q", end)
			}
		}
	}
	return &c, nil
}
