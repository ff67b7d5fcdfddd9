package assoc

import (
	"github.com/mickamy/ormassoc/internal/naming"
	"github.com/mickamy/ormassoc/model"
)

// OwnerKey returns the owner attribute that takes part in the relationship:
// the owner identity for hasMany and hasOne, and for belongsTo the attribute
// storing the related identity (Key, or "<foreignname>_id").
func OwnerKey(d Descriptor, ownerIDAttr string) string {
	switch d.Type {
	case ManyToOne:
		if d.Key != "" {
			return d.Key
		}
		return naming.ForeignKey(d.ForeignName)
	default:
		return ownerIDAttr
	}
}

// RelatedKey returns the related attribute that takes part in the
// relationship: ForeignKey when set, "<name>_id" for hasMany and hasOne, and
// the related identity attribute for belongsTo (the pool's when pooled).
func RelatedKey(d Descriptor) string {
	if d.ForeignKey != "" {
		return d.ForeignKey
	}
	switch d.Type {
	case ManyToOne:
		if d.Pool != nil {
			return d.Pool.IDAttribute()
		}
		return model.DefaultIDAttribute
	default:
		return naming.ForeignKey(d.Name)
	}
}
