package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Prompts is the brand voice fed to the scorer and the drafter
type Prompts struct {
	Brand    string   `yaml:"brand"`
	Persona  string   `yaml:"persona"`
	Keywords []string `yaml:"keywords"`
	// Templates are used instead of the LLM when workflow.test_mode is set
	Templates []string `yaml:"templates"`
}

// DefaultPrompts is used when no prompts file exists
func DefaultPrompts() *Prompts {
	return &Prompts{
		Brand:    "an independent account that replies with useful context",
		Persona:  "concise, friendly, specific, never salesy",
		Keywords: []string{},
		Templates: []string{
			"Interesting point. Curious to see where this goes.",
			"Good thread, thanks for sharing.",
			"This is worth a closer look.",
		},
	}
}

// PromptsPath resolves generator.prompts_file, defaulting to prompts.yaml next
// to the config file
func (c *Config) PromptsPath() (string, error) {
	if c.Generator.PromptsFile != "" {
		return c.Generator.PromptsFile, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "prompts.yaml"), nil
}

// LoadPrompts reads the prompts file. A missing file yields DefaultPrompts.
func LoadPrompts(path string) (*Prompts, error) {
	p := DefaultPrompts()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse prompts: %w", err)
	}
	return p, nil
}
