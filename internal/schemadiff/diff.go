// Package schemadiff computes and classifies structural differences between
// two dataset schemas.
//
// Compute is deterministic: changes are emitted in the declaration order of
// the current schema, followed by removed fields in their previous order, with
// nested record changes inlined at their parent's position. Two calls with the
// same inputs return identical output.
package schemadiff

import (
	"bytes"
	"strconv"

	"schemaevo/internal/domain"
)

// Compute returns the ordered list of changes turning previous into current.
// Both schemas are expected to be normalized. Severities are left at their
// zero value; use Classify to assign them.
func Compute(previous, current domain.Schema) []domain.ChangeRecord {
	var out []domain.ChangeRecord
	diffFields(&out, "", previous.Fields, current.Fields)
	return out
}

func diffFields(out *[]domain.ChangeRecord, prefix string, previous, current []domain.Field) {
	prevByName := make(map[string]domain.Field, len(previous))
	for _, f := range previous {
		prevByName[f.Name] = f
	}
	inCurrent := make(map[string]bool, len(current))

	for _, cur := range current {
		inCurrent[cur.Name] = true
		path := domain.JoinFieldPath(prefix, cur.Name)

		prev, ok := prevByName[cur.Name]
		if !ok {
			*out = append(*out, domain.ChangeRecord{
				Kind:      domain.ChangeFieldAdded,
				FieldPath: path,
				After:     fieldRef(cur),
			})
			continue
		}
		diffField(out, path, prev, cur)
	}

	for _, prev := range previous {
		if inCurrent[prev.Name] {
			continue
		}
		*out = append(*out, domain.ChangeRecord{
			Kind:      domain.ChangeFieldRemoved,
			FieldPath: domain.JoinFieldPath(prefix, prev.Name),
			Before:    fieldRef(prev),
		})
	}
}

// diffField compares a field present on both sides. A type change suppresses
// every other signal for the field; records never produce a TypeChanged of
// their own and are compared member by member instead.
func diffField(out *[]domain.ChangeRecord, path string, prev, cur domain.Field) {
	bothRecords := prev.Type.Kind == domain.KindRecord && cur.Type.Kind == domain.KindRecord

	if !bothRecords && !prev.Type.Equal(cur.Type) {
		*out = append(*out, change(domain.ChangeTypeChanged, path, prev, cur))
		return
	}
	if prev.Nullable != cur.Nullable {
		*out = append(*out, change(domain.ChangeNullabilityChanged, path, prev, cur))
	}
	if !bytes.Equal(prev.Default, cur.Default) {
		*out = append(*out, change(domain.ChangeDefaultChanged, path, prev, cur))
	}
	if prev.Doc != cur.Doc {
		*out = append(*out, change(domain.ChangeDocChanged, path, prev, cur))
	}
	if bothRecords {
		diffFields(out, path, prev.Type.Fields, cur.Type.Fields)
		return
	}
	diffElementDocs(out, path, prev.Type, cur.Type)
}

// diffElementDocs reports docstring edits on records nested inside arrays,
// maps and unions. prev and cur have equal signatures, so their shapes match.
func diffElementDocs(out *[]domain.ChangeRecord, path string, prev, cur domain.Type) {
	switch cur.Kind {
	case domain.KindArray:
		if prev.Element != nil && cur.Element != nil {
			diffElementDocs(out, path+"[]", *prev.Element, *cur.Element)
		}
	case domain.KindMap:
		if prev.Value != nil && cur.Value != nil {
			diffElementDocs(out, path+"{}", *prev.Value, *cur.Value)
		}
	case domain.KindUnion:
		for i, o := range cur.Options {
			for _, p := range prev.Options {
				if p.Equal(o) {
					diffElementDocs(out, path+"|"+strconv.Itoa(i), p, o)
					break
				}
			}
		}
	case domain.KindRecord:
		prevByName := make(map[string]domain.Field, len(prev.Fields))
		for _, f := range prev.Fields {
			prevByName[f.Name] = f
		}
		for _, f := range cur.Fields {
			p, ok := prevByName[f.Name]
			if !ok {
				continue
			}
			fieldPath := domain.JoinFieldPath(path, f.Name)
			if p.Doc != f.Doc {
				*out = append(*out, change(domain.ChangeDocChanged, fieldPath, p, f))
			}
			diffElementDocs(out, fieldPath, p.Type, f.Type)
		}
	}
}

func change(kind domain.ChangeKind, path string, prev, cur domain.Field) domain.ChangeRecord {
	return domain.ChangeRecord{
		Kind:      kind,
		FieldPath: path,
		Before:    fieldRef(prev),
		After:     fieldRef(cur),
	}
}

func fieldRef(f domain.Field) *domain.Field {
	return &f
}
