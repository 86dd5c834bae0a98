package config

import (
	"fmt"
	"os"
)

// CheckFiles verifies that files named by the config are readable. It is
// separate from ValidateConfig so configs can be checked on another host.
func (c *Config) CheckFiles() error {
	if cert := c.Server.TLS.CertFile; cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(c.Server.TLS.KeyFile); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}
	if p := c.Catalog.Path; p != "" {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("catalog file not accessible: %w", err)
		}
	}
	return nil
}
