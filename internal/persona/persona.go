// ABOUTME: Persona type and validation rules for AI conversation characters.
// ABOUTME: A persona bundles identity, prompt template, and generation parameters.

package persona

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidConfig indicates a persona failed validation on write.
var ErrInvalidConfig = errors.New("invalid persona config")

// ErrNotFound indicates the named persona does not exist in the registry.
var ErrNotFound = errors.New("persona not found")

// Name validation regex: lowercase slug, 2-50 characters
var nameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,49}$`)

// Avatar color validation regex: #rrggbb
var colorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

const (
	maxDisplayNameLen  = 100
	maxSystemPromptLen = 2000
	maxTraits          = 16

	// maxTokensCeiling caps the derived token budget for any persona.
	maxTokensCeiling = 1500
)

// Persona describes one AI character: identity, prompt template, and the
// generation parameters used when the character speaks.
type Persona struct {
	// Name is the unique lowercase identifier (e.g. "philosopher").
	Name string `json:"name" yaml:"name"`

	// DisplayName is shown to listeners (e.g. "The Philosopher").
	DisplayName string `json:"display_name" yaml:"display_name"`

	// SystemPrompt is the prompt template. The placeholders {name} and
	// {traits} are expanded at render time; templates without placeholders
	// get the trait list appended.
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`

	// Traits is the ordered list of personality tags.
	Traits []string `json:"traits" yaml:"traits"`

	// AvatarColor is a #rrggbb accent used by presentation layers.
	AvatarColor string `json:"avatar_color" yaml:"avatar_color"`

	// Temperature is the sampling temperature, 0..2.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// TargetLength is the desired response length in words. It drives both
	// the token budget and the speaker's thinking delay.
	TargetLength int `json:"target_length" yaml:"target_length"`

	// MaxTokens is the generation token cap. Zero means derived from
	// TargetLength.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Provider pins the persona to one provider ("" or "auto" means the
	// gateway picks with failover). Model overrides that provider's default.
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`

	// UpdatedAt is set by the registry on every successful upsert.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks the persona's fields against the registry's rules.
// All failures wrap ErrInvalidConfig.
func (p *Persona) Validate() error {
	if !nameRegex.MatchString(p.Name) {
		return fmt.Errorf("%w: name %q must match %s", ErrInvalidConfig, p.Name, nameRegex.String())
	}
	if p.DisplayName == "" {
		return fmt.Errorf("%w: display_name is required", ErrInvalidConfig)
	}
	if len(p.DisplayName) > maxDisplayNameLen {
		return fmt.Errorf("%w: display_name exceeds %d characters", ErrInvalidConfig, maxDisplayNameLen)
	}
	if p.SystemPrompt == "" {
		return fmt.Errorf("%w: system_prompt is required", ErrInvalidConfig)
	}
	if len(p.SystemPrompt) > maxSystemPromptLen {
		return fmt.Errorf("%w: system_prompt exceeds %d characters", ErrInvalidConfig, maxSystemPromptLen)
	}
	if len(p.Traits) > maxTraits {
		return fmt.Errorf("%w: more than %d traits", ErrInvalidConfig, maxTraits)
	}
	for _, tr := range p.Traits {
		if tr == "" {
			return fmt.Errorf("%w: empty trait tag", ErrInvalidConfig)
		}
	}
	if p.AvatarColor != "" && !colorRegex.MatchString(p.AvatarColor) {
		return fmt.Errorf("%w: avatar_color %q is not #rrggbb", ErrInvalidConfig, p.AvatarColor)
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("%w: temperature %.2f is outside 0..2", ErrInvalidConfig, p.Temperature)
	}
	if p.TargetLength <= 0 {
		return fmt.Errorf("%w: target_length must be positive", ErrInvalidConfig)
	}
	if p.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens must not be negative", ErrInvalidConfig)
	}
	return nil
}

// TokenBudget returns the effective max token count for a generation:
// MaxTokens when set, otherwise twice the target word length capped at 1500.
func (p *Persona) TokenBudget() int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	budget := p.TargetLength * 2
	if budget > maxTokensCeiling {
		budget = maxTokensCeiling
	}
	return budget
}

// Clone returns a deep copy. The registry hands out clones so callers never
// share trait slices with registry state.
func (p *Persona) Clone() Persona {
	cp := *p
	if p.Traits != nil {
		cp.Traits = make([]string, len(p.Traits))
		copy(cp.Traits, p.Traits)
	}
	return cp
}
