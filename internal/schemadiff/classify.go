package schemadiff

import "schemaevo/internal/domain"

// Classify returns a copy of changes with each record's severity assigned
// from the fixed compatibility table. The input slice is not modified.
func Classify(changes []domain.ChangeRecord) []domain.ChangeRecord {
	out := make([]domain.ChangeRecord, len(changes))
	for i, c := range changes {
		c.Severity = ClassifyChange(c)
		out[i] = c
	}
	return out
}

// Overall returns the maximum severity over changes. An empty list is
// Informational.
func Overall(changes []domain.ChangeRecord) domain.Severity {
	sev := domain.SeverityInformational
	for _, c := range changes {
		sev = sev.Max(c.Severity)
	}
	return sev
}

// ClassifyChange maps a single change to its severity. Unknown kinds and
// incomplete records are Breaking.
func ClassifyChange(c domain.ChangeRecord) domain.Severity {
	switch c.Kind {
	case domain.ChangeFieldAdded:
		if c.After == nil {
			return domain.SeverityBreaking
		}
		if isOptional(*c.After) {
			return domain.SeverityAdditive
		}
		return domain.SeverityBreaking

	case domain.ChangeFieldRemoved:
		return domain.SeverityBreaking

	case domain.ChangeTypeChanged:
		if c.Before == nil || c.After == nil {
			return domain.SeverityBreaking
		}
		// The nullability record is folded into the type change, so a field
		// that also stopped accepting null is graded here.
		if c.Before.Nullable && !c.After.Nullable {
			return domain.SeverityBreaking
		}
		return TypeChangeSeverity(c.Before.Type, c.After.Type)

	case domain.ChangeNullabilityChanged:
		if c.Before == nil || c.After == nil {
			return domain.SeverityBreaking
		}
		if c.Before.Nullable && !c.After.Nullable {
			return domain.SeverityBreaking
		}
		return domain.SeverityAdditive

	case domain.ChangeDefaultChanged, domain.ChangeDocChanged:
		return domain.SeverityInformational
	}
	return domain.SeverityBreaking
}

// isOptional reports whether readers of old data can fill the field: it is
// nullable, has a default, or is a union admitting null.
func isOptional(f domain.Field) bool {
	if f.Nullable || f.HasDefault() {
		return true
	}
	if f.Type.Kind == domain.KindUnion {
		for _, o := range f.Type.Options {
			if o.Kind == domain.KindNull {
				return true
			}
		}
	}
	return false
}

// TypeChangeSeverity classifies a change of type from one shape to another.
// Widening is Additive, identical types are Informational and everything
// else, including unknown pairs, is Breaking.
func TypeChangeSeverity(from, to domain.Type) domain.Severity {
	if from.Equal(to) {
		return domain.SeverityInformational
	}

	switch {
	case from.Kind == domain.KindUnion:
		// Every old member must still be readable as the new type; a union
		// narrowed to fewer members fails this.
		for _, m := range from.Options {
			if !widens(m, to) {
				return domain.SeverityBreaking
			}
		}
		return domain.SeverityAdditive

	case to.Kind == domain.KindUnion:
		if widens(from, to) {
			return domain.SeverityAdditive
		}
		return domain.SeverityBreaking

	case from.Kind.IsPrimitive() && to.Kind.IsPrimitive():
		if Promotable(from.Kind, to.Kind) {
			return domain.SeverityAdditive
		}
		return domain.SeverityBreaking

	case from.Kind == domain.KindArray && to.Kind == domain.KindArray:
		return TypeChangeSeverity(*from.Element, *to.Element)

	case from.Kind == domain.KindMap && to.Kind == domain.KindMap:
		return TypeChangeSeverity(*from.Value, *to.Value)

	case from.Kind == domain.KindRecord && to.Kind == domain.KindRecord:
		changes := Classify(Compute(
			domain.Schema{Fields: from.Fields},
			domain.Schema{Fields: to.Fields},
		))
		return Overall(changes)
	}

	return domain.SeverityBreaking
}

// widens reports whether a value of type from can be read as type to without
// loss of compatibility. to may be a union, in which case one member must
// accept from.
func widens(from, to domain.Type) bool {
	if to.Kind == domain.KindUnion {
		for _, o := range to.Options {
			if TypeChangeSeverity(from, o) <= domain.SeverityAdditive {
				return true
			}
		}
		return false
	}
	return TypeChangeSeverity(from, to) <= domain.SeverityAdditive
}
