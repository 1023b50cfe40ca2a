// Package conf loads the optional YAML deployment file: the control
// listen address, log level, and an optional allow-listed port range for
// forward rules. None of this changes wire semantics; it only tunes where
// this particular deployment is willing to listen.
package conf

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Conf is the top-level deployment configuration.
type Conf struct {
	Listen   string     `yaml:"listen"`
	LogLevel string     `yaml:"log_level"`
	Ports    *PortRange `yaml:"ports"`
}

// PortRange restricts which ports Registry.OpenTCP/OpenUDP will bind.
type PortRange struct {
	Min uint16 `yaml:"min"`
	Max uint16 `yaml:"max"`
}

// Contains reports whether port falls within the allow-listed range. A nil
// *PortRange allows every port.
func (p *PortRange) Contains(port uint16) bool {
	if p == nil {
		return true
	}
	return port >= p.Min && port <= p.Max
}

// LoadFromFile reads and validates a deployment config file.
func LoadFromFile(path string) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c Conf
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Conf) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Conf) validate() error {
	if c.Ports != nil && c.Ports.Min > c.Ports.Max {
		return fmt.Errorf("ports: min %d is greater than max %d", c.Ports.Min, c.Ports.Max)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	return nil
}
