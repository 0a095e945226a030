// Package taxonomy holds the document categories used by split and the
// per-category subtype rules used by classify.
//
// A Snapshot is immutable once built. Its ID is a hash of its content, so two
// jobs resolved against the same taxonomy share one persisted snapshot.
package taxonomy

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/docsplit/internal/types"
)

//go:embed builtin.yaml
var builtinYAML []byte

//go:embed schema.json
var schemaJSON []byte

// SourceBuiltin marks a snapshot built from the embedded taxonomy.
const SourceBuiltin = "builtin"

// Rule is one subtype a segment of a category may be classified as.
type Rule struct {
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description" json:"description"`
	Folder      string `yaml:"folder,omitempty" json:"folder,omitempty"`
}

// Category is a split category and its subtype rules.
type Category struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Subtypes    []Rule `yaml:"subtypes,omitempty" json:"subtypes,omitempty"`
}

// Snapshot is a frozen taxonomy that a job is processed against.
type Snapshot struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Version    string     `json:"version,omitempty"`
	Categories []Category `json:"categories"`
	CreatedAt  time.Time  `json:"created_at"`
}

type document struct {
	Version    string     `yaml:"version" json:"version,omitempty"`
	Categories []Category `yaml:"categories" json:"categories"`
}

var (
	builtinOnce sync.Once
	builtin     *Snapshot
	builtinErr  error

	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Builtin returns the embedded taxonomy. It panics if the embedded file is
// malformed, which is a build defect.
func Builtin() *Snapshot {
	builtinOnce.Do(func() {
		builtin, builtinErr = Parse(builtinYAML, SourceBuiltin)
	})
	if builtinErr != nil {
		panic(fmt.Sprintf("taxonomy: invalid builtin taxonomy: %v", builtinErr))
	}
	return builtin
}

// LoadFile parses a YAML or JSON taxonomy file.
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}
	return Parse(data, "file:"+path)
}

// Parse decodes, validates and hashes a taxonomy document. YAML is a
// superset of JSON so both formats are accepted.
func Parse(data []byte, source string) (*Snapshot, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}
	// Round-trip through JSON so the validator sees plain JSON types.
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize taxonomy: %w", err)
	}
	if err := Validate(asJSON); err != nil {
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode taxonomy: %w", err)
	}
	if err := checkUnique(doc.Categories); err != nil {
		return nil, err
	}

	id, err := contentID(doc)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:         id,
		Source:     source,
		Version:    doc.Version,
		Categories: doc.Categories,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Validate checks a JSON taxonomy document against the embedded schema.
func Validate(doc []byte) error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("taxonomy.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("failed to load taxonomy schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("taxonomy.json")
	})
	if schemaErr != nil {
		return schemaErr
	}

	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("failed to decode taxonomy for validation: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("taxonomy does not match schema: %w", err)
	}
	return nil
}

func checkUnique(categories []Category) error {
	names := make(map[string]bool, len(categories))
	for _, c := range categories {
		if names[c.Name] {
			return fmt.Errorf("duplicate taxonomy category %q", c.Name)
		}
		names[c.Name] = true
		seen := make(map[string]bool, len(c.Subtypes))
		for _, r := range c.Subtypes {
			if seen[r.Type] {
				return fmt.Errorf("duplicate subtype %q in category %q", r.Type, c.Name)
			}
			seen[r.Type] = true
		}
	}
	return nil
}

func contentID(doc document) (string, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to hash taxonomy: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16]), nil
}

// MarshalCategories encodes the categories for storage.
func (s *Snapshot) MarshalCategories() ([]byte, error) {
	return json.Marshal(document{Version: s.Version, Categories: s.Categories})
}

// FromStored rebuilds a snapshot from its persisted form.
func FromStored(id, source string, data []byte, createdAt time.Time) (*Snapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode stored taxonomy %s: %w", id, err)
	}
	return &Snapshot{
		ID:         id,
		Source:     source,
		Version:    doc.Version,
		Categories: doc.Categories,
		CreatedAt:  createdAt,
	}, nil
}

// SplitCategories returns the name and description of every category, in
// order. A snapshot without categories falls back to the built-in list.
func (s *Snapshot) SplitCategories() []Category {
	src := s
	if s == nil || len(s.Categories) == 0 {
		src = Builtin()
	}
	out := make([]Category, len(src.Categories))
	for i, c := range src.Categories {
		out[i] = Category{Name: c.Name, Description: c.Description}
	}
	return out
}

// RulesFor returns the subtype rules for a bucket. Buckets the snapshot does
// not cover, or covers with no subtypes, use the built-in rules. UNKNOWN has
// no rules.
func (s *Snapshot) RulesFor(b types.Bucket) []Rule {
	name := b.Category()
	if name == "" {
		return nil
	}
	if s != nil {
		if c := s.category(name); c != nil && len(c.Subtypes) > 0 {
			return c.Subtypes
		}
	}
	if c := Builtin().category(name); c != nil {
		return c.Subtypes
	}
	return nil
}

// RulesByBucket resolves rules for every bucket at once.
func (s *Snapshot) RulesByBucket() map[types.Bucket][]Rule {
	out := make(map[types.Bucket][]Rule, len(types.AllBuckets))
	for _, b := range types.AllBuckets {
		out[b] = s.RulesFor(b)
	}
	return out
}

// HasSubtype reports whether subtype is a rule of the bucket.
func (s *Snapshot) HasSubtype(b types.Bucket, subtype string) bool {
	return FindRule(s.RulesFor(b), subtype) != nil
}

func (s *Snapshot) category(name string) *Category {
	for i := range s.Categories {
		if s.Categories[i].Name == name {
			return &s.Categories[i]
		}
	}
	return nil
}

// FindRule returns the rule with the given type.
func FindRule(rules []Rule, subtype string) *Rule {
	for i := range rules {
		if rules[i].Type == subtype {
			return &rules[i]
		}
	}
	return nil
}

// FolderFor returns the folder of subtype within rules, or nil when the rule
// is missing or has no folder.
func FolderFor(rules []Rule, subtype string) *string {
	r := FindRule(rules, subtype)
	if r == nil || r.Folder == "" {
		return nil
	}
	f := r.Folder
	return &f
}
