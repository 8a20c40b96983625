package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const fileHeader = "# fragment configuration\n# Keys can be overridden with FRAGMENT_<SECTION>_<KEY> environment variables.\n\n"

// Marshal renders c as YAML. Durations are written in time.Duration string
// form so the file reads back through viper unchanged.
func Marshal(c *Config) ([]byte, error) {
	var node yaml.Node
	if err := node.Encode(c); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	humanizeDurations(&node, map[string]time.Duration{
		"debounce": c.Watch.Debounce,
	})

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func humanizeDurations(node *yaml.Node, durations map[string]time.Duration) {
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if d, ok := durations[key.Value]; ok && value.Kind == yaml.ScalarNode {
				value.Tag = "!!str"
				value.Value = d.String()
				value.Style = 0
			}
		}
	}
	for _, child := range node.Content {
		humanizeDurations(child, durations)
	}
}

// WriteFile writes c to path. An existing file is only replaced when force is
// set.
func WriteFile(path string, c *Config, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file %s already exists", path)
	}

	data, err := Marshal(c)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, append([]byte(fileHeader), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}
