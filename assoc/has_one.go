package assoc

import (
	"context"

	"github.com/mickamy/ormassoc/model"
)

type hasOne struct {
	d       Descriptor
	owner   *Model
	related *model.Model
}

func (r *hasOne) descriptor() Descriptor { return r.d }
func (r *hasOne) resolved() bool         { return r.related != nil }

func (r *hasOne) init(payload any, _ bool) error {
	attrs, err := object(r.d, payload)
	if err != nil {
		return err
	}
	o := r.owner
	if !o.IsNew() {
		attrs[RelatedKey(r.d)] = o.ID()
	}

	ctx := o.Context()
	rel, err := r.d.Model(attrs, model.WithContext(ctx))
	if err != nil {
		return err
	}
	if err := rel.Validate(); err != nil {
		o.debug(r.d, "related entity is invalid", err)
		return nil
	}
	r.related = rel
	if r.d.Reverse {
		rel.SetRef(r.d.Name, o)
	}

	// An identity plus the stamped key is a reference, not a full record.
	switch {
	case !rel.IsNew() && len(attrs) <= 2:
		err = rel.Fetch(ctx, model.Callbacks{})
	case rel.IsNew():
		err = rel.Save(ctx, nil, model.Callbacks{Success: r.linked})
	}
	if err != nil {
		o.debug(r.d, "related sync failed", err)
	}
	return nil
}

// linked stores the owner identity on a freshly created related entity,
// waiting for the owner to be persisted first when needed.
func (r *hasOne) linked(rel *model.Model) {
	o := r.owner
	if o.Destroyed() {
		return
	}
	fk := RelatedKey(r.d)
	o.whenIdentified(func() {
		if err := rel.Save(o.Context(), model.Attributes{fk: o.ID()}, model.Callbacks{}); err != nil {
			o.debug(r.d, "saving foreign key failed", err)
		}
	})
}

func (r *hasOne) merge(payload any) error {
	attrs, err := object(r.d, payload)
	if err != nil {
		return err
	}
	r.related.Set(attrs)
	return nil
}

func (r *hasOne) destroy(ctx context.Context) {
	if r.related == nil {
		return
	}
	if err := r.related.Destroy(ctx, model.Callbacks{}); err != nil {
		r.owner.debug(r.d, "cascading destroy failed", err)
	}
}

func (r *hasOne) json() any { return r.related.JSON() }
