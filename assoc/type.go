package assoc

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/mickamy/ormassoc/model"
	"github.com/mickamy/ormassoc/remote"
)

// Type declares an associative entity type: its relationships and the
// options every instance is constructed with. A Type must not be copied
// after first use.
type Type struct {
	// Name labels the type in logs and schemas.
	Name         string
	Associations []Descriptor

	URLRoot     string
	IDAttribute string
	Defaults    model.Attributes
	Validator   func(model.Attributes) error
	// Parse transforms server data before associations are partitioned out.
	Parse func(model.Attributes) (model.Attributes, error)
	// Initialize runs after every relationship has been resolved.
	Initialize func(*Model) error

	Transport remote.Transport
	Scheduler model.Scheduler
	Logger    *slog.Logger

	// Strict makes construction fail when an association is malformed instead
	// of dropping it.
	Strict bool

	once  sync.Once
	valid []Descriptor
	errs  []error
}

func (t *Type) resolve() {
	t.once.Do(func() {
		t.valid, t.errs = Validate(t.Associations)
		for _, err := range t.errs {
			t.logger().Debug("association dropped",
				slog.String("type", t.Name),
				slog.String("error", err.Error()),
			)
		}
	})
}

// Check returns the associations instances of t are built with, and one
// *ConfigError for every declared association that is dropped. Pools given as
// PoolFunc are resolved on the first call.
func (t *Type) Check() ([]Descriptor, []error) {
	t.resolve()
	return slices.Clone(t.valid), slices.Clone(t.errs)
}

// New constructs an instance from attrs. Association payloads are
// partitioned out of attrs, the remaining attributes are installed, and every
// relationship is resolved before Initialize runs. ctx becomes the context of
// the remote operations the relationships start, now or when later server
// data is parsed.
func (t *Type) New(ctx context.Context, attrs model.Attributes, opts ...model.Option) (*Model, error) {
	t.resolve()
	if t.Strict && len(t.errs) > 0 {
		return nil, errors.Join(t.errs...)
	}

	am := newModel(t)
	base := []model.Option{model.WithContext(ctx), model.WithLogger(t.logger())}
	if t.IDAttribute != "" {
		base = append(base, model.WithIDAttribute(t.IDAttribute))
	}
	if t.URLRoot != "" {
		base = append(base, model.WithURLRoot(t.URLRoot))
	}
	if t.Transport != nil {
		base = append(base, model.WithTransport(t.Transport))
	}
	if t.Scheduler != nil {
		base = append(base, model.WithScheduler(t.Scheduler))
	}
	if t.Validator != nil {
		base = append(base, model.WithValidator(t.Validator))
	}
	if t.Defaults != nil {
		base = append(base, model.WithDefaults(t.Defaults))
	}
	base = append(base, opts...)
	base = append(base, model.WithHooks(am.hooks()))
	if t.Initialize != nil {
		base = append(base, model.WithInitializer(func(*model.Model) error { return t.Initialize(am) }))
	}

	if _, err := model.New(attrs, base...); err != nil {
		return nil, err
	}
	return am, nil
}

// Factory adapts t to a model.Factory, so instances can be members of a
// collection or the related side of another type's relationship. Use From to
// reach the associative instance behind the returned model.
func (t *Type) Factory() model.Factory {
	return func(attrs model.Attributes, opts ...model.Option) (*model.Model, error) {
		am, err := t.New(context.Background(), attrs, opts...)
		if err != nil {
			return nil, err
		}
		return am.Model, nil
	}
}

// CollectionFactory returns a factory of collections whose members are
// instances of t.
func (t *Type) CollectionFactory(opts ...model.CollectionOption) model.CollectionFactory {
	base := []model.CollectionOption{model.WithMember(t.Factory()), model.WithCollectionLogger(t.logger())}
	if t.IDAttribute != "" {
		base = append(base, model.WithMemberIDAttribute(t.IDAttribute))
	}
	return model.NewCollectionFactory(append(base, opts...)...)
}

func (t *Type) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.New(slog.DiscardHandler)
}
