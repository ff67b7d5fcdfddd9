package assoc

import (
	"context"

	"github.com/mickamy/ormassoc/model"
)

// hasAndBelongsToMany is fully embedded: no fetch, no key sync, no cascade.
type hasAndBelongsToMany struct {
	d       Descriptor
	related *model.Collection
}

func (r *hasAndBelongsToMany) descriptor() Descriptor { return r.d }
func (r *hasAndBelongsToMany) resolved() bool         { return r.related != nil }

func (r *hasAndBelongsToMany) init(payload any, _ bool) error {
	items, err := list(r.d, payload)
	if err != nil {
		return err
	}
	col, err := r.d.Collection(items)
	if err != nil {
		return err
	}
	r.related = col
	return nil
}

func (r *hasAndBelongsToMany) merge(payload any) error {
	items, err := list(r.d, payload)
	if err != nil {
		return err
	}
	return r.related.Reset(items)
}

func (r *hasAndBelongsToMany) destroy(context.Context) {}

func (r *hasAndBelongsToMany) json() any { return r.related.JSON() }
