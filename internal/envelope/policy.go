package envelope

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// PolicyFileName is looked up at the root of the synced directory
const PolicyFileName = "policy.yaml"

// Rule assigns a mode to paths matching a doublestar pattern
type Rule struct {
	Pattern string `yaml:"pattern"`
	Mode    Mode   `yaml:"mode"`
}

// Policy picks the encryption mode for relative paths. The first matching rule wins.
type Policy struct {
	Default Mode   `yaml:"default"`
	Rules   []Rule `yaml:"rules"`
}

// ParsePolicy decodes and validates a YAML policy
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	for i, r := range p.Rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("policy rule %d: empty pattern", i)
		}
		if !doublestar.ValidatePattern(r.Pattern) {
			return nil, fmt.Errorf("policy rule %d: invalid pattern %q", i, r.Pattern)
		}
	}
	return &p, nil
}

// LoadPolicy reads a policy file. A missing file yields the empty policy (ModeNone).
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Policy{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ParsePolicy(data)
}

// ModeFor returns the mode for a slash separated relative path
func (p *Policy) ModeFor(rel string) Mode {
	if p == nil {
		return ModeNone
	}
	for _, r := range p.Rules {
		if ok, _ := doublestar.Match(r.Pattern, rel); ok {
			return r.Mode
		}
	}
	return p.Default
}

// Modes lists every mode the policy can produce
func (p *Policy) Modes() []Mode {
	if p == nil {
		return []Mode{ModeNone}
	}
	seen := map[Mode]bool{p.Default: true}
	modes := []Mode{p.Default}
	for _, r := range p.Rules {
		if !seen[r.Mode] {
			seen[r.Mode] = true
			modes = append(modes, r.Mode)
		}
	}
	return modes
}
