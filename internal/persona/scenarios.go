package persona

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/sloane/pkg/types"
)

//go:embed scenarios.yaml
var defaultScenarios []byte

// Scenario describes one practice level.
type Scenario struct {
	// Level is the difficulty this scenario belongs to (1–4).
	Level types.Level `yaml:"level" json:"level"`

	// Title is the short display name ("The Pitch").
	Title string `yaml:"title" json:"title"`

	// Situation sets the scene for the founder.
	Situation string `yaml:"situation" json:"situation"`

	// Goal tells the founder what a good answer looks like.
	Goal string `yaml:"goal" json:"goal"`

	// Opening is the line Sloane greets the founder with.
	Opening string `yaml:"opening" json:"opening"`

	// Directive is the behavioural instruction injected into the prompt.
	Directive string `yaml:"directive" json:"-"`
}

// catalogFile is the top-level structure of a scenario YAML file.
//
// Example:
//
//	levels:
//	  - level: 1
//	    title: Ice-Breaking
//	    situation: ...
//	    goal: ...
//	    opening: We don't have time. Pitch me your update.
//	    directive: ...
type catalogFile struct {
	Levels []Scenario `yaml:"levels"`
}

// Catalog is the immutable set of practice scenarios, one per level.
type Catalog struct {
	byLevel map[types.Level]Scenario
}

// DefaultCatalog returns the built-in scenarios. It panics only if the
// embedded file is broken, which the package tests guard against.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalogFromReader(bytes.NewReader(defaultScenarios))
	if err != nil {
		panic(fmt.Sprintf("persona: embedded scenarios: %v", err))
	}
	return c
}

// LoadCatalog reads and parses a scenario YAML file from disk.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persona: open scenarios %q: %w", path, err)
	}
	defer f.Close()

	c, err := LoadCatalogFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("persona: parse scenarios %q: %w", path, err)
	}
	return c, nil
}

// LoadCatalogFromReader parses scenario YAML from an [io.Reader] and checks
// that every level from [types.MinLevel] to [types.MaxLevel] is present
// exactly once with a directive.
func LoadCatalogFromReader(r io.Reader) (*Catalog, error) {
	var cf catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("persona: decode scenarios yaml: %w", err)
	}

	c := &Catalog{byLevel: make(map[types.Level]Scenario, len(cf.Levels))}
	var errs []error
	for i, s := range cf.Levels {
		switch {
		case !s.Level.Valid():
			errs = append(errs, fmt.Errorf("levels[%d]: level %d outside %d..%d", i, s.Level, types.MinLevel, types.MaxLevel))
			continue
		case s.Directive == "":
			errs = append(errs, fmt.Errorf("levels[%d]: directive is required", i))
		case s.Title == "":
			errs = append(errs, fmt.Errorf("levels[%d]: title is required", i))
		}
		if _, dup := c.byLevel[s.Level]; dup {
			errs = append(errs, fmt.Errorf("levels[%d]: duplicate level %d", i, s.Level))
			continue
		}
		c.byLevel[s.Level] = s
	}
	for l := types.MinLevel; l <= types.MaxLevel; l++ {
		if _, ok := c.byLevel[l]; !ok {
			errs = append(errs, fmt.Errorf("level %d is missing", l))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("persona: invalid scenarios: %w", errors.Join(errs...))
	}
	return c, nil
}

// Scenario returns the scenario for level. Levels outside the valid range
// resolve to level 1, matching [types.NormalizeLevel].
func (c *Catalog) Scenario(level types.Level) Scenario {
	return c.byLevel[types.NormalizeLevel(int(level))]
}

// All returns every scenario ordered by level.
func (c *Catalog) All() []Scenario {
	out := make([]Scenario, 0, len(c.byLevel))
	for _, s := range c.byLevel {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}
