package schema

import (
	"fmt"
	"log/slog"

	"github.com/mickamy/ormassoc/assoc"
	"github.com/mickamy/ormassoc/internal/naming"
	"github.com/mickamy/ormassoc/model"
	"github.com/mickamy/ormassoc/remote"
)

// Registry supplies what a schema cannot express.
type Registry struct {
	Transport remote.Transport
	Scheduler model.Scheduler
	Logger    *slog.Logger

	// Models are factories a `model:` may name besides the schema's types.
	Models map[string]model.Factory
	// Pools are the shared collections `pool:` names. Pools the schema
	// names but the map lacks are created, and added when the map is non-nil.
	Pools map[string]*model.Collection
}

// Build creates an assoc.Type for every declared type, keyed by name.
// Associations are handed to the types as declared: structurally malformed
// ones are dropped by assoc and reported by Type.Check. References Build
// cannot resolve, such as an unknown `model:`, fail the whole build.
func (s *Schema) Build(reg Registry) (map[string]*assoc.Type, error) {
	b := &builder{reg: reg, types: make(map[string]*assoc.Type, len(s.Types))}
	if b.reg.Pools == nil {
		b.reg.Pools = make(map[string]*model.Collection)
	}

	for _, td := range s.Types {
		urlRoot := td.URLRoot
		if urlRoot == "" {
			urlRoot = naming.Resource(td.Name)
		}
		b.types[td.Name] = &assoc.Type{
			Name:        td.Name,
			URLRoot:     urlRoot,
			IDAttribute: td.IDAttribute,
			Defaults:    model.Attributes(td.Defaults),
			Validator:   required(td.Required),
			Strict:      td.Strict,
			Transport:   reg.Transport,
			Scheduler:   reg.Scheduler,
			Logger:      reg.Logger,
		}
	}

	for _, td := range s.Types {
		t := b.types[td.Name]
		for _, ad := range td.Associations {
			d, err := b.descriptor(ad)
			if err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", td.Name, ad.ForeignName, err)
			}
			t.Associations = append(t.Associations, d)
		}
	}
	return b.types, nil
}

type builder struct {
	reg   Registry
	types map[string]*assoc.Type
}

func (b *builder) descriptor(ad AssociationDef) (assoc.Descriptor, error) {
	d := assoc.Descriptor{
		Name:                   ad.Name,
		Type:                   assoc.Kind(ad.Type),
		ForeignName:            ad.ForeignName,
		AttributeName:          ad.AttributeName,
		ForeignKey:             ad.ForeignKey,
		Key:                    ad.Key,
		InitializeEagerly:      ad.InitializeEagerly,
		Reverse:                ad.Reverse,
		ResetOnBulkUpdate:      ad.ResetOnBulkUpdate,
		IncludeInSerialization: ad.IncludeInSerialization,
		CascadeDestroy:         ad.CascadeDestroy,
	}

	var err error
	switch d.Type {
	case assoc.OneToMany, assoc.ManyToMany:
		u := ad.Collection
		if u == "" && ad.ForeignName != "" {
			u = naming.Resource(ad.ForeignName)
		}
		d.Collection, err = b.collection(ad.Model, u)
	case assoc.ManyToOne:
		if ad.Pool != "" {
			d.Pool, err = b.pool(ad.Pool, ad.Model)
			break
		}
		d.Model, err = b.model(ad.Model, ad.ForeignName)
	case assoc.OneToOne:
		d.Model, err = b.model(ad.Model, ad.ForeignName)
	}
	return d, err
}

// model resolves name to a factory. Without a name, entities are plain
// models rooted at the conventional resource of foreignName.
func (b *builder) model(name, foreignName string) (model.Factory, error) {
	if t, ok := b.types[name]; ok {
		return t.Factory(), nil
	}
	if f, ok := b.reg.Models[name]; ok {
		return f, nil
	}
	if name != "" {
		return nil, fmt.Errorf("unknown model %q", name)
	}

	opts := []model.Option{model.WithURLRoot(naming.Resource(foreignName))}
	if b.reg.Transport != nil {
		opts = append(opts, model.WithTransport(b.reg.Transport))
	}
	if b.reg.Scheduler != nil {
		opts = append(opts, model.WithScheduler(b.reg.Scheduler))
	}
	if b.reg.Logger != nil {
		opts = append(opts, model.WithLogger(b.reg.Logger))
	}
	return model.NewFactory(opts...), nil
}

func (b *builder) collection(name, u string) (model.CollectionFactory, error) {
	opts := []model.CollectionOption{model.WithCollectionURL(u)}
	if b.reg.Transport != nil {
		opts = append(opts, model.WithCollectionTransport(b.reg.Transport))
	}
	if b.reg.Scheduler != nil {
		opts = append(opts, model.WithCollectionScheduler(b.reg.Scheduler))
	}
	if b.reg.Logger != nil {
		opts = append(opts, model.WithCollectionLogger(b.reg.Logger))
	}

	if t, ok := b.types[name]; ok {
		return t.CollectionFactory(opts...), nil
	}
	if f, ok := b.reg.Models[name]; ok {
		opts = append(opts, model.WithMember(f))
		return model.NewCollectionFactory(opts...), nil
	}
	if name != "" {
		return nil, fmt.Errorf("unknown model %q", name)
	}
	return model.NewCollectionFactory(opts...), nil
}

func (b *builder) pool(name, modelName string) (*model.Collection, error) {
	if p, ok := b.reg.Pools[name]; ok {
		return p, nil
	}
	f, err := b.collection(modelName, name)
	if err != nil {
		return nil, err
	}
	p, err := f(nil)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", name, err)
	}
	b.reg.Pools[name] = p
	return p, nil
}

// required returns a validator rejecting blank values of attrs.
func required(attrs []string) func(model.Attributes) error {
	if len(attrs) == 0 {
		return nil
	}
	return func(a model.Attributes) error {
		for _, k := range attrs {
			if model.IsBlank(a[k]) {
				return fmt.Errorf("%s is required", k)
			}
		}
		return nil
	}
}
