// Package responder defines the agent abstraction the scheduler invokes: a
// participant that, given a system prompt and recent conversation, produces
// one reply. Provider implementations register themselves by name; the
// scheduler stays provider-agnostic.
package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parlor-dev/parlor/internal/alias"
)

// Roles used in conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrUnknownProvider is returned when no factory is registered for a
	// definition's provider label.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNotInitialized is returned by Generate before Initialize succeeds.
	ErrNotInitialized = errors.New("responder not initialized")

	// ErrEmptyReply is returned when a provider answers with no content.
	ErrEmptyReply = errors.New("provider returned empty reply")
)

// Def describes one configured responder participant. Missing required
// fields are configuration errors, fatal for this participant only.
type Def struct {
	ID          string         `yaml:"id,omitempty"`
	Alias       string         `yaml:"alias"`
	Provider    string         `yaml:"provider"`
	Model       string         `yaml:"model,omitempty"`
	Persona     string         `yaml:"persona,omitempty"`
	APIKeyEnv   string         `yaml:"api_key_env,omitempty"`
	BaseURL     string         `yaml:"base_url,omitempty"`
	Region      string         `yaml:"region,omitempty"`
	Endpoint    string         `yaml:"endpoint,omitempty"`
	Temperature float64        `yaml:"temperature,omitempty"`
	MaxTokens   int            `yaml:"max_tokens,omitempty"`
	Timeout     Duration       `yaml:"timeout,omitempty"`
	Extra       map[string]any `yaml:",inline"`
}

// Duration wraps time.Duration for yaml text values like "30s".
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Validate checks required fields and fills the ID default (the alias
// slug).
func (d *Def) Validate() error {
	if d.Alias == "" {
		return fmt.Errorf("responder def: alias is required")
	}
	if d.Provider == "" {
		return fmt.Errorf("responder def %q: provider is required", d.Alias)
	}
	if d.ID == "" {
		d.ID = alias.Slug(d.Alias)
	}
	if d.ID == "" {
		return fmt.Errorf("responder def %q: alias yields no usable id", d.Alias)
	}
	return nil
}

// GetString reads a string from the definition's inline extras.
func (d *Def) GetString(key, def string) string {
	if v, ok := d.Extra[key].(string); ok {
		return v
	}
	return def
}

// UnmarshalKey decodes a provider-specific extra into v. A missing key is
// not an error; v is left untouched.
func (d *Def) UnmarshalKey(key string, v any) error {
	raw, exists := d.Extra[key]
	if !exists {
		return nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal key %q: %w", key, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal key %q: %w", key, err)
	}

	return nil
}

// Message is one turn of conversation context handed to Generate.
type Message struct {
	Role    string
	Name    string
	Content string
}

// Request carries everything a responder needs for a single generation.
type Request struct {
	RoomID       string
	Topic        string
	SystemPrompt string
	Messages     []Message
}

// Usage reports token counts when the provider supplies them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Reply is one completed generation.
type Reply struct {
	Content      string
	Model        string
	FinishReason string
	Usage        *Usage
}

// Responder is the external generation contract. Implementations must
// return typed errors, never panic into the scheduler.
type Responder interface {
	// Initialize prepares the underlying client from the definition.
	// Called once, before any Generate, under the scheduler's
	// bounded-concurrency startup. Initialization failures are fatal for
	// this participant only.
	Initialize(ctx context.Context, def Def) error

	// Generate produces one reply for the request.
	Generate(ctx context.Context, req Request) (*Reply, error)
}

// Factory builds a Responder from its definition.
type Factory func(def Def) (Responder, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a provider factory. Typically called from init().
func Register(provider string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[provider] = factory
}

// New builds a Responder for the definition's provider.
func New(def Def) (Responder, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	registryMu.RLock()
	factory, ok := registry[def.Provider]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, def.Provider)
	}
	return factory(def)
}

// Providers lists the registered provider names.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
