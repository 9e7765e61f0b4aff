package schemadiff

import "schemaevo/internal/domain"

// promotions lists, for each primitive kind, the kinds it can be widened to.
// int32 ⊂ int64 ⊂ float32 ⊂ float64; string and bytes are not compatible with
// any numeric kind. Pairs missing from the table are treated as narrowing.
var promotions = map[domain.TypeKind]map[domain.TypeKind]bool{
	domain.KindInt32: {
		domain.KindInt64:   true,
		domain.KindFloat32: true,
		domain.KindFloat64: true,
	},
	domain.KindInt64: {
		domain.KindFloat32: true,
		domain.KindFloat64: true,
	},
	domain.KindFloat32: {
		domain.KindFloat64: true,
	},
	domain.KindDate: {
		domain.KindTimestamp: true,
	},
}

// Promotable reports whether values of kind from can be read as kind to.
func Promotable(from, to domain.TypeKind) bool {
	if from == to {
		return true
	}
	return promotions[from][to]
}
