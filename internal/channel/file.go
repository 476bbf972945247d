package channel

import (
	"fmt"
	"os"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	yaml "go.yaml.in/yaml/v3"
)

type fileChannel struct {
	ID         int    `yaml:"id"`
	Name       string `yaml:"name"`
	RawContent bool   `yaml:"rawContent"`
	TTL        string `yaml:"ttl"`
}

type fileLayout struct {
	Channels []fileChannel `yaml:"channels"`
}

// LoadFile builds a registry from a YAML channel table:
//
//	channels:
//	  - id: 20
//	    name: sms
//	    rawContent: true
//	    ttl: 1m
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel file: %w", err)
	}
	return parseYAML(data)
}

func parseYAML(data []byte) (*Registry, error) {
	var layout fileLayout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("failed to decode channel file: %w", err)
	}

	descriptors := make([]Descriptor, 0, len(layout.Channels))
	for _, c := range layout.Channels {
		ttl, err := time.ParseDuration(c.TTL)
		if err != nil {
			return nil, fmt.Errorf("%w: channel %d ttl %q: %v", domain.ErrValidation, c.ID, c.TTL, err)
		}
		descriptors = append(descriptors, Descriptor{
			ID:         domain.Channel(c.ID),
			Name:       c.Name,
			RawContent: c.RawContent,
			TTL:        ttl,
		})
	}

	return New(descriptors)
}
