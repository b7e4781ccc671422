package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// LLMExchange is one prompt/response pair, kept on disk for debugging
// scoring and drafting decisions
type LLMExchange struct {
	Timestamp time.Time `json:"timestamp"`
	Purpose   string    `json:"purpose"` // "score", "draft" or "engage"
	Model     string    `json:"model"`
	Target    string    `json:"target,omitempty"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Cost      float64   `json:"cost"`
	Error     string    `json:"error,omitempty"`
}

// LLMCache writes exchanges as individual JSON files under Dir
type LLMCache struct {
	Dir string
}

// Save writes exchange to a timestamped file and returns its path
func (c *LLMCache) Save(exchange LLMExchange) (string, error) {
	if c == nil || c.Dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create llm cache dir: %w", err)
	}
	if exchange.Timestamp.IsZero() {
		exchange.Timestamp = time.Now()
	}

	// concurrent scorers can finish in the same second
	filename := fmt.Sprintf("%s_%s_%s.json",
		exchange.Timestamp.Format("2006-01-02T15-04-05"), exchange.Purpose, uuid.NewString()[:8])
	path := filepath.Join(c.Dir, filename)

	data, err := json.MarshalIndent(exchange, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
