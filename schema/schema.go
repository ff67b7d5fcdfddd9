// Package schema declares associative entity types in YAML:
//
//	types:
//	  - name: Post
//	    urlRoot: posts
//	    associations:
//	      - {name: Post, type: hasMany, foreignName: Comments, model: Comment}
//	      - {name: Post, type: belongsTo, foreignName: User, pool: users}
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Schema is a set of entity type declarations.
type Schema struct {
	Types []TypeDef `yaml:"types"`
}

// TypeDef declares one entity type.
type TypeDef struct {
	Name        string         `yaml:"name"`
	URLRoot     string         `yaml:"urlRoot,omitempty"`
	IDAttribute string         `yaml:"idAttribute,omitempty"`
	Defaults    map[string]any `yaml:"defaults,omitempty"`
	// Required lists attributes that must not be blank for an instance to
	// be valid.
	Required     []string         `yaml:"required,omitempty"`
	Strict       bool             `yaml:"strict,omitempty"`
	Associations []AssociationDef `yaml:"associations,omitempty"`
}

// AssociationDef declares one relationship of a type.
type AssociationDef struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"`
	ForeignName   string `yaml:"foreignName"`
	AttributeName string `yaml:"attributeName,omitempty"`

	// Model names the related type: another type of the schema or a factory
	// of the Registry.
	Model string `yaml:"model,omitempty"`
	// Collection is the URL of the related collection of hasMany and
	// hasAndBelongsToMany.
	Collection string `yaml:"collection,omitempty"`
	// Pool names a collection shared by every belongsTo with the same pool.
	Pool string `yaml:"pool,omitempty"`

	ForeignKey string `yaml:"foreignKey,omitempty"`
	Key        string `yaml:"key,omitempty"`

	InitializeEagerly      *bool `yaml:"initializeEagerly,omitempty"`
	Reverse                bool  `yaml:"reverse,omitempty"`
	ResetOnBulkUpdate      *bool `yaml:"resetOnBulkUpdate,omitempty"`
	IncludeInSerialization bool  `yaml:"includeInSerialization,omitempty"`
	CascadeDestroy         *bool `yaml:"cascadeDestroy,omitempty"`
}

// Load decodes a schema from r. Unknown fields are rejected.
func Load(r io.Reader) (*Schema, error) {
	var s Schema
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse schema YAML: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Parse decodes a schema from data.
func Parse(data []byte) (*Schema, error) {
	return Load(bytes.NewReader(data))
}

// LoadFile decodes the schema file at path.
func LoadFile(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Marshal encodes s as YAML.
func (s *Schema) Marshal() ([]byte, error) {
	return yaml.Marshal(s) //nolint:wrapcheck // pass through
}

// Type returns the declaration named name.
func (s *Schema) Type(name string) (TypeDef, bool) {
	for _, t := range s.Types {
		if t.Name == name {
			return t, true
		}
	}
	return TypeDef{}, false
}

func (s *Schema) validate() error {
	seen := make(map[string]bool, len(s.Types))
	for i, t := range s.Types {
		if t.Name == "" {
			return fmt.Errorf("schema: type %d has no name", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("schema: type %s is declared twice", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}
