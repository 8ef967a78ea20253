/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package flowcore

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level collector configuration, unmarshaled from YAML
// the same way the original's Field/Template types support yaml tags.
type Config struct {
	Listen         ListenConfig  `yaml:"listen"`
	TemplateAgeout time.Duration `yaml:"templateAgeout"`

	FlowTree FlowTreeConfig `yaml:"flowTree,omitempty"`
}

// ListenConfig configures the UDP/TCP listeners.
type ListenConfig struct {
	UDPAddr string `yaml:"udpAddr,omitempty"`
	TCPAddr string `yaml:"tcpAddr,omitempty"`
}

// FlowTreeConfig configures packet-capture-based flow aggregation.
type FlowTreeConfig struct {
	ActiveTimeout   time.Duration `yaml:"activeTimeout"`
	InactiveTimeout time.Duration `yaml:"inactiveTimeout"`
	MaxEntries      int           `yaml:"maxEntries"`
}

// DefaultConfig returns sane defaults: a 300s active timeout, a 60s inactive
// timeout, and a template ageout long enough to survive a brief exporter
// restart without losing in-flight templates.
func DefaultConfig() *Config {
	return &Config{
		Listen:         ListenConfig{UDPAddr: ":9995", TCPAddr: ":4739"},
		TemplateAgeout: 5 * time.Minute,
		FlowTree: FlowTreeConfig{
			ActiveTimeout:   300 * time.Second,
			InactiveTimeout: 60 * time.Second,
			MaxEntries:      1 << 20,
		},
	}
}

// LoadConfig reads and parses a YAML config file, overlaying it on
// DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("flowcore: reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("flowcore: parsing config: %w", err)
	}
	return cfg, nil
}
