// Package classify maps message content to event labels using ordered
// keyword tables, one table per category.
package classify

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/tracevault/internal/model"
)

//go:embed rules.yaml
var defaultRules []byte

type ruleDoc struct {
	Version    int           `yaml:"version"`
	Categories []categoryDoc `yaml:"categories"`
}

type categoryDoc struct {
	Name  string    `yaml:"name"`
	Rules []ruleRow `yaml:"rules"`
}

type ruleRow struct {
	Label   string `yaml:"label"`
	Keyword string `yaml:"keyword"`
}

// Table is the ordered rule list of one category.
type Table struct {
	Category string
	Rules    []model.EventRule
	folded   []string
}

// RuleSet is an immutable, versioned collection of tables in display order.
type RuleSet struct {
	Version int
	tables  []Table
	index   map[string]int
}

var (
	defaultOnce sync.Once
	defaultSet  *RuleSet
	defaultErr  error
)

// Default returns the built-in rule set, parsed once per process.
func Default() (*RuleSet, error) {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = Parse(strings.NewReader(string(defaultRules)))
	})
	return defaultSet, defaultErr
}

// Load reads a rule set from path, or returns the built-in set when path is
// empty.
func Load(path string) (*RuleSet, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("classify: open rules: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a YAML rule document.
func Parse(r io.Reader) (*RuleSet, error) {
	var doc ruleDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("classify: decode rules: %w", err)
	}
	if len(doc.Categories) == 0 {
		return nil, errors.New("classify: rule document has no categories")
	}

	rs := &RuleSet{Version: doc.Version, index: make(map[string]int, len(doc.Categories))}
	for _, c := range doc.Categories {
		if c.Name == "" {
			return nil, errors.New("classify: category without name")
		}
		if _, dup := rs.index[c.Name]; dup {
			return nil, fmt.Errorf("classify: duplicate category %q", c.Name)
		}
		t := Table{Category: c.Name}
		for i, row := range c.Rules {
			if strings.TrimSpace(row.Keyword) == "" || row.Label == "" {
				return nil, fmt.Errorf("classify: %s rule %d needs label and keyword", c.Name, i+1)
			}
			t.Rules = append(t.Rules, model.EventRule{Category: c.Name, Keyword: row.Keyword, Label: row.Label})
			t.folded = append(t.folded, strings.ToLower(row.Keyword))
		}
		rs.index[c.Name] = len(rs.tables)
		rs.tables = append(rs.tables, t)
	}
	return rs, nil
}

// Categories returns category names in display order.
func (rs *RuleSet) Categories() []string {
	names := make([]string, len(rs.tables))
	for i, t := range rs.tables {
		names[i] = t.Category
	}
	return names
}

// Table returns the table for category.
func (rs *RuleSet) Table(category string) (Table, bool) {
	i, ok := rs.index[category]
	if !ok {
		return Table{}, false
	}
	return rs.tables[i], true
}
