package rules

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/confsync/confsync/internal/utils"
)

// FileName is the conventional rule file name inside a workspace.
const FileName = "rules.yaml"

// ruleFile is the on-disk YAML shape of a rule set.
type ruleFile struct {
	Rules []*Rule `yaml:"rules"`
}

// LoadFromFile reads and compiles a rule set from a YAML file.
func LoadFromFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader reads and compiles a rule set from YAML content.
func LoadFromReader(r io.Reader) (*Set, error) {
	var file ruleFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	return NewSet(file.Rules...)
}

// Save writes the set to the given path as YAML, creating parent
// directories as needed.
func Save(path string, set *Set) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create rules file: %w", err)
	}
	defer f.Close()

	encoder := yaml.NewEncoder(f)
	encoder.SetIndent(2)
	defer encoder.Close()

	return encoder.Encode(&ruleFile{Rules: set.Rules()})
}

// LoadOrInit loads the rule set at path, materializing the default set
// there first when the file does not exist yet.
func LoadOrInit(path string) (*Set, error) {
	if !utils.FileExists(path) {
		set, err := DefaultSet()
		if err != nil {
			return nil, err
		}
		if err := Save(path, set); err != nil {
			return nil, err
		}
		return set, nil
	}
	return LoadFromFile(path)
}

// DefaultRules returns the stock rule set written into fresh workspaces:
// agent, skill and plugin trees plus structured config files sync by
// default, editor droppings stay local, and a low-priority catch-all
// admits everything else.
func DefaultRules() []*Rule {
	return []*Rule{
		{Name: "agents", Kind: KindInclude, Pattern: "agents/**", Category: "agents", Priority: 50},
		{Name: "skills", Kind: KindInclude, Pattern: "skills/**", Category: "skills", Priority: 50},
		{Name: "plugins", Kind: KindInclude, Pattern: "plugins/**", Category: "plugins", Priority: 50},
		{Name: "config-files", Kind: KindInclude, Pattern: "**/*.{json,yaml,yml,toml}", Category: "config", Priority: 60},
		{Name: "scratch-files", Kind: KindExclude, Pattern: "**/{*.tmp,*.bak,.*.swp}", Priority: 100},
		{Name: "everything", Kind: KindInclude, Pattern: "**", Priority: MinPriority},
	}
}

// DefaultSet compiles DefaultRules.
func DefaultSet() (*Set, error) {
	return NewSet(DefaultRules()...)
}
