package config

import (
	"errors"
	"fmt"
	"net"
)

// BasicService is used as a simple base for simulator services like
// streaming, query API, Pprof or Prometheus monitoring.
type BasicService struct {
	Enabled bool `yaml:"Enabled"`
	// Addresses holds the list of bind addresses in the form of "address:port".
	Addresses []string `yaml:"Addresses"`
}

// Validate checks that enabled service has correct bind addresses.
func (s BasicService) Validate() error {
	if !s.Enabled {
		return nil
	}
	if len(s.Addresses) == 0 {
		return errors.New("service is enabled, but no Addresses specified")
	}
	for _, addr := range s.Addresses {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid address %q: %w", addr, err)
		}
	}
	return nil
}
