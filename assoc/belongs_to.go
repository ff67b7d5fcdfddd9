package assoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/mickamy/ormassoc/model"
)

// cidAttr carries a local reference token in belongsTo payloads.
const cidAttr = "cid"

var cidPattern = regexp.MustCompile(`^c\d+`)

type belongsTo struct {
	d       Descriptor
	owner   *Model
	related *model.Model
	fkSub   *model.Subscription
}

func (r *belongsTo) descriptor() Descriptor { return r.d }
func (r *belongsTo) resolved() bool         { return r.related != nil }

func (r *belongsTo) key() string { return OwnerKey(r.d, r.owner.IDAttribute()) }

func (r *belongsTo) init(payload any, _ bool) error {
	attrs, err := object(r.d, payload)
	if err != nil {
		return err
	}
	o := r.owner
	key, fk := r.key(), RelatedKey(r.d)
	keyVal := o.Get(key)
	if !model.IsBlank(keyVal) {
		if cur := attrs[fk]; !model.IsBlank(cur) && !model.SameValue(cur, keyVal) {
			return &ConflictError{ForeignName: r.d.ForeignName, Key: key, Owner: keyVal, Payload: cur}
		}
		attrs[fk] = keyVal
	}

	ctx := o.Context()
	var rel *model.Model
	if pool := r.d.Pool; pool != nil {
		rel = pool.Get(attrs[fk])
		cid, _ := attrs[cidAttr].(string)
		delete(attrs, cidAttr)
		if rel == nil && cid != "" {
			rel = pool.GetByCID(cid)
		}
		if rel == nil {
			if rel, err = r.create(ctx, attrs, model.Callbacks{Success: r.linked}); err != nil {
				return err
			}
			if rel == nil {
				return nil
			}
		}
	} else {
		if rel, err = r.d.Model(attrs, model.WithContext(ctx)); err != nil {
			return err
		}
		if err := rel.Validate(); err != nil {
			o.debug(r.d, "related entity is invalid", err)
			return nil
		}
	}

	if !rel.IsNew() && !model.SameValue(keyVal, rel.ID()) {
		o.Set(model.Attributes{key: rel.ID()})
	}
	r.attach(rel)

	// Without a pool, a payload of at most the key is only a reference.
	if r.d.Pool == nil && len(attrs) <= 1 {
		if rel.IsNew() {
			err = rel.Save(ctx, nil, model.Callbacks{Success: r.linked})
		} else {
			err = rel.Fetch(ctx, model.Callbacks{})
		}
		if err != nil {
			o.debug(r.d, "related sync failed", err)
		}
	}
	return nil
}

// create adds a new entity to the pool and saves it. A nil entity with a nil
// error means the attributes did not validate.
func (r *belongsTo) create(ctx context.Context, attrs model.Attributes, cb model.Callbacks) (*model.Model, error) {
	rel, err := r.d.Pool.Create(ctx, attrs, cb)
	if err == nil {
		return rel, nil
	}
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		r.owner.debug(r.d, "related entity is invalid", err)
		return nil, nil
	}
	if rel == nil {
		return nil, err
	}
	r.owner.debug(r.d, "related sync failed", err)
	return rel, nil
}

// attach makes rel the related entity and mirrors its key onto the owner.
func (r *belongsTo) attach(rel *model.Model) {
	r.owner.release(r.fkSub)
	r.related = rel
	r.fkSub = rel.OnChange(RelatedKey(r.d), func(_ *model.Model, v any) {
		if r.owner.Destroyed() {
			return
		}
		r.owner.Set(model.Attributes{r.key(): v})
	})
	r.owner.track(r.fkSub)
}

// linked persists the owner key once a related entity created on its behalf
// has been saved, waiting for the owner's own identity when needed.
func (r *belongsTo) linked(rel *model.Model) {
	o := r.owner
	if o.Destroyed() {
		return
	}
	key, fk := r.key(), RelatedKey(r.d)
	o.whenIdentified(func() {
		if err := o.Save(o.Context(), model.Attributes{key: rel.Get(fk)}, model.Callbacks{}); err != nil {
			o.debug(r.d, "saving key failed", err)
		}
	})
}

func (r *belongsTo) change(ctx context.Context, value any) (*model.Model, error) {
	if isNil(value) {
		r.owner.release(r.fkSub)
		r.fkSub = nil
		r.related = nil
		r.owner.Unset(r.key())
		return nil, nil
	}

	rel, err := r.lookup(ctx, value)
	if err != nil {
		return nil, err
	}
	r.attach(rel)
	if rel.IsNew() {
		return rel, nil
	}
	return rel, r.owner.Save(ctx, model.Attributes{r.key(): rel.ID()}, model.Callbacks{})
}

func (r *belongsTo) lookup(ctx context.Context, value any) (*model.Model, error) {
	pool := r.d.Pool
	switch v := value.(type) {
	case *model.Model:
		return v, nil
	case *Model:
		return v.Model, nil
	case string:
		if pool != nil && cidPattern.MatchString(v) {
			if rel := pool.GetByCID(v); rel != nil {
				return rel, nil
			}
			return r.poolCreate(ctx, nil)
		}
	default:
		if pool != nil && isNumber(v) {
			if rel := pool.Get(v); rel != nil {
				return rel, nil
			}
			return r.poolCreate(ctx, model.Attributes{pool.IDAttribute(): v})
		}
	}

	attrs, ok := model.AsAttributes(value)
	if !ok {
		return nil, fmt.Errorf("assoc: %s: cannot relate %T", r.d.ForeignName, value)
	}
	if r.d.Model == nil {
		return model.New(attrs.Clone(), model.WithContext(ctx), model.WithLogger(r.owner.Logger()))
	}
	return r.d.Model(attrs.Clone(), model.WithContext(ctx))
}

// poolCreate is create for callers that need an entity.
func (r *belongsTo) poolCreate(ctx context.Context, attrs model.Attributes) (*model.Model, error) {
	rel, err := r.create(ctx, attrs, model.Callbacks{})
	if err == nil && rel == nil {
		return nil, fmt.Errorf("assoc: %s: new pool entity is invalid", r.d.ForeignName)
	}
	return rel, err
}

func (r *belongsTo) merge(payload any) error {
	attrs, err := object(r.d, payload)
	if err != nil {
		return err
	}
	r.related.Set(attrs)
	return nil
}

// destroy leaves pooled entities alone; they are shared with other owners.
func (r *belongsTo) destroy(ctx context.Context) {
	if r.related == nil || r.d.Pool != nil {
		return
	}
	if err := r.related.Destroy(ctx, model.Callbacks{}); err != nil {
		r.owner.debug(r.d, "cascading destroy failed", err)
	}
}

func (r *belongsTo) json() any { return r.related.JSON() }

// isNil reports whether value is nil or a nil entity pointer.
func isNil(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case *model.Model:
		return v == nil
	case *Model:
		return v == nil || v.Model == nil
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	}
	return false
}
