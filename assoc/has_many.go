package assoc

import (
	"context"
	"maps"

	"github.com/mickamy/ormassoc/model"
)

type hasMany struct {
	d       Descriptor
	owner   *Model
	related *model.Collection
}

func (r *hasMany) descriptor() Descriptor { return r.d }
func (r *hasMany) resolved() bool         { return r.related != nil }

func (r *hasMany) init(payload any, present bool) error {
	items, err := list(r.d, payload)
	if err != nil {
		return err
	}
	col, err := r.d.Collection(items)
	if err != nil {
		return err
	}
	col.SetFetchGuard(r.guard)
	r.related = col

	if !present && !r.owner.IsNew() {
		if err := col.Fetch(r.owner.Context(), model.FetchOptions{}); err != nil {
			r.owner.debug(r.d, "initial fetch failed", err)
		}
	}
	return nil
}

// guard scopes every fetch of the collection to the owner and refuses to
// fetch for an owner without identity.
func (r *hasMany) guard(opts *model.FetchOptions) error {
	if r.owner.IsNew() {
		return ErrOwnerNew
	}
	q := maps.Clone(opts.Query)
	if q == nil {
		q = make(map[string]any, 1)
	}
	q[RelatedKey(r.d)] = r.owner.ID()
	opts.Query = q
	return nil
}

func (r *hasMany) merge(payload any) error {
	items, err := list(r.d, payload)
	if err != nil {
		return err
	}
	if r.d.Resets() {
		return r.related.Reset(items)
	}
	return diff(r.related, items)
}

// diff applies items to col member by member: unknown or identity-less items
// are added, known ones are updated in place, and members missing from items
// are removed. Members added by this call are never removed by it.
func diff(col *model.Collection, items []model.Attributes) error {
	idAttr := col.IDAttribute()
	keep := make(map[string]bool, len(items))
	added := make(map[*model.Model]bool)
	for _, attrs := range items {
		key, ok := model.Key(attrs[idAttr])
		if ok {
			keep[key] = true
			if m := col.Get(key); m != nil {
				m.Set(attrs)
				continue
			}
		}
		m, err := col.Build(attrs)
		if err != nil {
			return err
		}
		col.Add(m)
		added[m] = true
	}

	var stale []*model.Model
	for _, m := range col.Models() {
		if added[m] {
			continue
		}
		if key, ok := model.Key(m.Get(idAttr)); !ok || !keep[key] {
			stale = append(stale, m)
		}
	}
	col.Remove(stale...)
	return nil
}

func (r *hasMany) destroy(ctx context.Context) {
	if r.related == nil {
		return
	}
	for r.related.Len() > 0 {
		n := r.related.Len()
		m := r.related.At(0)
		if err := m.Destroy(ctx, model.Callbacks{}); err != nil {
			r.owner.debug(r.d, "cascading destroy failed", err)
		}
		if r.related.Len() == n {
			r.related.Remove(m)
		}
	}
}

func (r *hasMany) json() any { return r.related.JSON() }
