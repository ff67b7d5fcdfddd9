package assoc

import (
	"slices"

	"github.com/mickamy/ormassoc/model"
)

// Kind is the relationship type of a descriptor.
type Kind string

const (
	OneToMany  Kind = "hasMany"
	OneToOne   Kind = "hasOne"
	ManyToOne  Kind = "belongsTo"
	ManyToMany Kind = "hasAndBelongsToMany"
)

var kinds = []Kind{OneToMany, OneToOne, ManyToOne, ManyToMany}

// Valid reports whether k is one of the four relationship types.
func (k Kind) Valid() bool { return slices.Contains(kinds, k) }

// Descriptor declares one relationship of an entity type.
type Descriptor struct {
	// Name is the owner's role in the relationship, e.g. "Post". It derives
	// the related foreign key ("post_id") of hasMany and hasOne.
	Name string
	Type Kind
	// ForeignName names the relationship on the owner, e.g. "Comments".
	ForeignName string
	// AttributeName is the raw attribute carrying an embedded payload.
	// Defaults to ForeignName.
	AttributeName string

	// Model builds the related entity of hasOne and belongsTo.
	Model model.Factory
	// Collection builds the related collection of hasMany and
	// hasAndBelongsToMany.
	Collection model.CollectionFactory
	// Pool is a shared collection used by belongsTo lookups instead of Model.
	Pool *model.Collection
	// PoolFunc produces Pool; it is invoked once per entity type.
	PoolFunc func() *model.Collection

	// ForeignKey overrides the related-side key attribute.
	ForeignKey string
	// Key overrides the owner-side key attribute of belongsTo.
	Key string

	InitializeEagerly      *bool
	Reverse                bool
	ResetOnBulkUpdate      *bool
	IncludeInSerialization bool
	CascadeDestroy         *bool
}

// Bool returns a pointer to b, for the optional descriptor flags.
func Bool(b bool) *bool { return &b }

// Eager reports whether the relationship resolves at construction without a
// payload. Defaults to true.
func (d Descriptor) Eager() bool { return d.InitializeEagerly == nil || *d.InitializeEagerly }

// Resets reports whether bulk updates of a hasMany replace the collection
// instead of diffing it. Defaults to true.
func (d Descriptor) Resets() bool { return d.ResetOnBulkUpdate == nil || *d.ResetOnBulkUpdate }

// Cascades reports whether destroying the owner destroys the related side.
// Defaults to true.
func (d Descriptor) Cascades() bool { return d.CascadeDestroy == nil || *d.CascadeDestroy }

// Validate returns normalized copies of the descriptors that pass the
// structural checks, and one *ConfigError for every descriptor it drops.
// The input slice is never modified.
func Validate(ds []Descriptor) ([]Descriptor, []error) {
	out := make([]Descriptor, 0, len(ds))
	var errs []error
	for i, d := range ds {
		if reason := check(&d); reason != "" {
			errs = append(errs, &ConfigError{Index: i, Name: d.Name, ForeignName: d.ForeignName, Reason: reason})
			continue
		}
		out = append(out, d)
	}
	return out, errs
}

func check(d *Descriptor) string {
	switch {
	case d.Name == "":
		return "name is required"
	case d.Type == "":
		return "type is required"
	case !d.Type.Valid():
		return "unknown type " + string(d.Type)
	case d.ForeignName == "":
		return "foreignName is required"
	}

	switch d.Type {
	case OneToMany, ManyToMany:
		if d.Collection == nil {
			return string(d.Type) + " requires a collection factory"
		}
	case OneToOne:
		if d.Model == nil {
			return "hasOne requires a model factory"
		}
	case ManyToOne:
		if d.Pool == nil && d.PoolFunc != nil {
			d.Pool = d.PoolFunc()
		}
		if d.Model == nil && d.Pool == nil {
			return "belongsTo requires a model factory or a pool"
		}
	}

	if d.AttributeName == "" {
		d.AttributeName = d.ForeignName
	}
	return ""
}
