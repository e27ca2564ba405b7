package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a backend from settings.
type Factory func(Settings) (Generator, error)

type entry struct {
	factory      Factory
	defaultModel string
}

// Registry maps backend tags to factories. Tags are case-insensitive.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]entry{}}
}

// DefaultRegistry knows the hosted OpenAI and Anthropic backends, the local
// Ollama backend, and the legacy model tags that map onto them.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("openai", NewOpenAI)
	r.MustRegister("anthropic", NewAnthropic)
	r.MustRegister("ollama", NewOllama)
	r.MustAlias("chatgpt4", "openai", "gpt-4o")
	r.MustAlias("chatgpt3p5", "openai", "gpt-3.5-turbo")
	r.MustAlias("claude", "anthropic", "claude-3-5-sonnet-20240620")
	r.MustAlias("codellama", "ollama", "codellama")
	r.MustAlias("local", "ollama", "")
	return r
}

// Register installs a factory. Returns an error if the tag already exists.
func (r *Registry) Register(tag string, factory Factory) error {
	tag = normalizeTag(tag)
	if tag == "" {
		return fmt.Errorf("llm: backend tag is required")
	}
	if factory == nil {
		return fmt.Errorf("llm: factory is required for %s", tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[tag]; exists {
		return fmt.Errorf("llm: %s already registered", tag)
	}
	r.entries[tag] = entry{factory: factory}
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(tag string, factory Factory) {
	if err := r.Register(tag, factory); err != nil {
		panic(err)
	}
}

// Alias registers tag as another name for target, with a model used when the
// settings leave Model empty.
func (r *Registry) Alias(tag, target, defaultModel string) error {
	target = normalizeTag(target)
	r.mu.RLock()
	base, ok := r.entries[target]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("llm: alias %s targets unknown backend %s", tag, target)
	}
	if err := r.Register(tag, base.factory); err != nil {
		return err
	}
	r.mu.Lock()
	e := r.entries[normalizeTag(tag)]
	e.defaultModel = defaultModel
	r.entries[normalizeTag(tag)] = e
	r.mu.Unlock()
	return nil
}

// MustAlias panics if aliasing fails.
func (r *Registry) MustAlias(tag, target, defaultModel string) {
	if err := r.Alias(tag, target, defaultModel); err != nil {
		panic(err)
	}
}

// Resolve constructs the backend registered under tag.
func (r *Registry) Resolve(tag string, settings Settings) (Generator, error) {
	r.mu.RLock()
	e, ok := r.entries[normalizeTag(tag)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("llm: unknown backend %q (known: %s)", tag, strings.Join(r.Tags(), ", "))
	}
	if strings.TrimSpace(settings.Model) == "" {
		settings.Model = e.defaultModel
	}
	return e.factory(settings)
}

// Tags returns the registered tags, sorted.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
