// Package assoc adds declarative relationships to model entities.
//
// An entity Type lists Descriptors of four kinds: hasMany (OneToMany), hasOne
// (OneToOne), belongsTo (ManyToOne, optionally backed by a shared pool) and
// hasAndBelongsToMany (ManyToMany). When an instance is constructed, and
// whenever server data is parsed into it, association payloads are split
// out of the raw attributes and used to build, merge, fetch, create or look
// up the related side, and key attributes are kept in sync on both sides.
package assoc

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mickamy/ormassoc/model"
)

const selfRef = "assoc.model"

// relation is the resolution state machine of one relationship.
type relation interface {
	descriptor() Descriptor
	resolved() bool
	// init resolves the relationship; present reports whether a payload was
	// supplied.
	init(payload any, present bool) error
	merge(payload any) error
	destroy(ctx context.Context)
	json() any
}

// Model is an entity with relationships. The embedded *model.Model provides
// attributes, events and persistence; its JSON projection and destroy are
// extended by the relationships.
type Model struct {
	*model.Model

	typ         *Type
	descriptors []Descriptor
	rels        []relation
	byName      map[string]relation
	payloads    map[string]any
	initialized bool
	subs        []*model.Subscription
}

func newModel(t *Type) *Model {
	am := &Model{
		typ:         t,
		descriptors: slices.Clone(t.valid),
		byName:      make(map[string]relation),
		payloads:    make(map[string]any),
	}
	for _, d := range am.descriptors {
		var r relation
		switch d.Type {
		case OneToMany:
			r = &hasMany{d: d, owner: am}
		case OneToOne:
			r = &hasOne{d: d, owner: am}
		case ManyToOne:
			r = &belongsTo{d: d, owner: am}
		case ManyToMany:
			r = &hasAndBelongsToMany{d: d}
		}
		am.rels = append(am.rels, r)
		am.byName[d.ForeignName] = r
	}
	return am
}

// From returns the associative instance behind m, as built by Type.Factory.
func From(m *model.Model) (*Model, bool) {
	if m == nil {
		return nil, false
	}
	am, ok := m.Ref(selfRef).(*Model)
	return am, ok
}

// Type returns the type m was constructed from.
func (am *Model) Type() *Type { return am.typ }

// Associations returns the validated descriptors of the instance.
func (am *Model) Associations() []Descriptor { return slices.Clone(am.descriptors) }

// One returns the related entity of a hasOne or belongsTo relationship, or
// nil when the relationship is unknown or unresolved.
func (am *Model) One(foreignName string) *model.Model {
	switch r := am.byName[foreignName].(type) {
	case *hasOne:
		return r.related
	case *belongsTo:
		return r.related
	}
	return nil
}

// Many returns the related collection of a hasMany or hasAndBelongsToMany
// relationship, or nil when the relationship is unknown or unresolved.
func (am *Model) Many(foreignName string) *model.Collection {
	switch r := am.byName[foreignName].(type) {
	case *hasMany:
		return r.related
	case *hasAndBelongsToMany:
		return r.related
	}
	return nil
}

// ChangeRelationship replaces the related entity of a belongsTo relationship.
// value may be nil (clear the relationship and unset the owner key), a
// *model.Model or *Model (adopted as is), a number or a local reference token
// such as "c12" (looked up in the pool, created there when absent), or
// attributes for a new related entity. When the new related entity already
// has an identity the owner key is saved.
func (am *Model) ChangeRelationship(ctx context.Context, foreignName string, value any) (*model.Model, error) {
	r, ok := am.byName[foreignName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRelationship, foreignName)
	}
	bt, ok := r.(*belongsTo)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotManyToOne, foreignName, r.descriptor().Type)
	}
	return bt.change(ctx, value)
}

func (am *Model) hooks() model.Hooks {
	h := model.Hooks{
		Prepare: func(_ *model.Model, attrs model.Attributes) (model.Attributes, error) {
			return am.partition(attrs)
		},
		Parse: func(_ *model.Model, attrs model.Attributes) (model.Attributes, error) {
			if am.typ.Parse != nil {
				var err error
				if attrs, err = am.typ.Parse(attrs); err != nil {
					return nil, err
				}
			}
			return am.partition(attrs)
		},
		Initialize: func(m *model.Model) error {
			am.Model = m
			m.SetRef(selfRef, am)
			return am.initialize()
		},
		BeforeDestroy: am.beforeDestroy,
	}
	for _, d := range am.descriptors {
		if d.IncludeInSerialization {
			h.JSON = am.json
			break
		}
	}
	return h
}

// partition removes association payloads from attrs. Before construction
// completes they are kept for initialize; afterwards they are merged into
// resolved relationships or resolve the ones still pending.
func (am *Model) partition(attrs model.Attributes) (model.Attributes, error) {
	for _, r := range am.rels {
		d := r.descriptor()
		payload, ok := attrs[d.AttributeName]
		if !ok {
			continue
		}
		delete(attrs, d.AttributeName)

		var err error
		switch {
		case r.resolved():
			err = r.merge(payload)
		case am.initialized:
			err = r.init(payload, true)
		default:
			am.payloads[d.ForeignName] = payload
		}
		if err != nil {
			return nil, err
		}
	}
	return attrs, nil
}

// initialize resolves every relationship with its recorded payload. A lazy
// relationship is skipped unless it has a payload or, for belongsTo, the
// owner key is already set. Afterwards the instance counts as constructed,
// so payloads in later server data resolve pending relationships directly.
func (am *Model) initialize() error {
	for _, r := range am.rels {
		d := r.descriptor()
		payload, ok := am.payloads[d.ForeignName]
		if !ok && !d.Eager() && !am.keyed(d) {
			continue
		}
		if err := r.init(payload, ok); err != nil {
			return err
		}
	}
	am.payloads = nil
	am.initialized = true
	return nil
}

// keyed reports whether the owner already holds the key of a belongsTo
// relationship. The key of the other kinds is the owner identity itself.
func (am *Model) keyed(d Descriptor) bool {
	return d.Type == ManyToOne && !model.IsBlank(am.Get(OwnerKey(d, am.IDAttribute())))
}

func (am *Model) json(_ *model.Model, attrs model.Attributes) model.Attributes {
	for _, r := range am.rels {
		d := r.descriptor()
		if d.IncludeInSerialization && r.resolved() {
			attrs[d.ForeignName] = r.json()
		}
	}
	return attrs
}

func (am *Model) beforeDestroy(ctx context.Context, _ *model.Model) {
	for _, sub := range am.subs {
		sub.Cancel()
	}
	am.subs = nil
	for _, r := range am.rels {
		if r.descriptor().Cascades() {
			r.destroy(ctx)
		}
	}
}

// track keeps a listener the instance registered so destroy can cancel it.
func (am *Model) track(sub *model.Subscription) {
	am.subs = append(am.subs, sub)
}

// release cancels a tracked listener and forgets it.
func (am *Model) release(sub *model.Subscription) {
	if sub == nil {
		return
	}
	sub.Cancel()
	am.subs = slices.DeleteFunc(am.subs, func(s *model.Subscription) bool { return s == sub })
}

// whenIdentified runs fn now when the instance has an identity, otherwise
// once it receives one. fn never runs after the instance is destroyed.
func (am *Model) whenIdentified(fn func()) {
	if !am.IsNew() {
		fn()
		return
	}
	am.track(am.OnceAvailable(am.IDAttribute(), func(*model.Model) {
		if am.Destroyed() {
			return
		}
		fn()
	}))
}

func (am *Model) debug(d Descriptor, msg string, err error) {
	am.Logger().Debug(msg,
		slog.String("type", am.typ.Name),
		slog.String("relationship", d.ForeignName),
		slog.String("kind", string(d.Type)),
		slog.String("error", err.Error()),
	)
}

func object(d Descriptor, payload any) (model.Attributes, error) {
	attrs, ok := model.AsAttributes(payload)
	if !ok {
		return nil, fmt.Errorf("assoc: %s: payload is %T, want an object", d.ForeignName, payload)
	}
	return attrs.Clone(), nil
}

func list(d Descriptor, payload any) ([]model.Attributes, error) {
	items, ok := model.AsList(payload)
	if !ok {
		return nil, fmt.Errorf("assoc: %s: payload is %T, want a list", d.ForeignName, payload)
	}
	return items, nil
}
