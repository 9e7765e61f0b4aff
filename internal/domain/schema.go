package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// TypeKind is the variant tag of a field type.
type TypeKind string

// Primitive kinds.
const (
	KindBoolean   TypeKind = "boolean"
	KindInt32     TypeKind = "int32"
	KindInt64     TypeKind = "int64"
	KindFloat32   TypeKind = "float32"
	KindFloat64   TypeKind = "float64"
	KindDecimal   TypeKind = "decimal"
	KindString    TypeKind = "string"
	KindBytes     TypeKind = "bytes"
	KindDate      TypeKind = "date"
	KindTimestamp TypeKind = "timestamp"
	KindNull      TypeKind = "null"
)

// Composite kinds.
const (
	KindArray  TypeKind = "array"
	KindMap    TypeKind = "map"
	KindRecord TypeKind = "record"
	KindUnion  TypeKind = "union"
)

var primitiveKinds = map[TypeKind]bool{
	KindBoolean: true, KindInt32: true, KindInt64: true, KindFloat32: true,
	KindFloat64: true, KindDecimal: true, KindString: true, KindBytes: true,
	KindDate: true, KindTimestamp: true, KindNull: true,
}

// kindAliases maps names used by source formats (Avro, Parquet, SQL) to the
// canonical kind.
var kindAliases = map[string]TypeKind{
	"int":     KindInt32,
	"integer": KindInt32,
	"long":    KindInt64,
	"bigint":  KindInt64,
	"float":   KindFloat32,
	"real":    KindFloat32,
	"double":  KindFloat64,
	"bool":    KindBoolean,
	"binary":  KindBytes,
	"varchar": KindString,
	"text":    KindString,
	"list":    KindArray,
	"struct":  KindRecord,
}

// IsPrimitive reports whether k is a leaf kind.
func (k TypeKind) IsPrimitive() bool { return primitiveKinds[k] }

// Type is a tagged variant: Primitive{kind}, Array{element}, Map{value},
// Record{fields} or Union{options}.
type Type struct {
	Kind    TypeKind `json:"kind"`
	Element *Type    `json:"element,omitempty"`
	Value   *Type    `json:"value,omitempty"`
	Fields  []Field  `json:"fields,omitempty"`
	Options []Type   `json:"options,omitempty"`
}

// Primitive returns a primitive type of the given kind.
func Primitive(k TypeKind) Type { return Type{Kind: k} }

// ArrayOf returns an array type.
func ArrayOf(elem Type) Type { return Type{Kind: KindArray, Element: &elem} }

// MapOf returns a map type with string keys.
func MapOf(value Type) Type { return Type{Kind: KindMap, Value: &value} }

// RecordOf returns a nested record type.
func RecordOf(fields ...Field) Type { return Type{Kind: KindRecord, Fields: fields} }

// UnionOf returns a union type.
func UnionOf(options ...Type) Type { return Type{Kind: KindUnion, Options: options} }

// Field is one named column of a schema level.
type Field struct {
	Name     string          `json:"name"`
	Type     Type            `json:"type"`
	Nullable bool            `json:"nullable"`
	Default  json.RawMessage `json:"default,omitempty"`
	Doc      string          `json:"doc,omitempty"`
}

// HasDefault reports whether the field declares a default value.
func (f Field) HasDefault() bool { return len(f.Default) > 0 }

// Schema is the canonical representation of a dataset schema. Field order is
// kept for display but is not significant for equality or hashing.
type Schema struct {
	Fields []Field `json:"fields"`
}

// FieldsByName indexes the top-level fields by name.
func (s Schema) FieldsByName() map[string]Field {
	return indexFields(s.Fields)
}

func indexFields(fields []Field) map[string]Field {
	m := make(map[string]Field, len(fields))
	for _, f := range fields {
		m[f.Name] = f
	}
	return m
}

// Normalize validates the schema and returns a copy with kind aliases resolved
// and default values re-encoded as canonical JSON. Invalid input yields a
// *MalformedSchemaError.
func (s Schema) Normalize() (Schema, error) {
	fields, err := normalizeFields(s.Fields, "")
	if err != nil {
		return Schema{}, err
	}
	return Schema{Fields: fields}, nil
}

func normalizeFields(fields []Field, prefix string) ([]Field, error) {
	out := make([]Field, len(fields))
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		name := strings.TrimSpace(f.Name)
		path := JoinFieldPath(prefix, name)
		if name == "" {
			return nil, ErrMalformed(prefix, "field %d has an empty name", i)
		}
		if strings.Contains(name, ".") {
			return nil, ErrMalformed(path, "field names must not contain '.'")
		}
		if seen[name] {
			return nil, ErrMalformed(path, "duplicate field name %q", name)
		}
		seen[name] = true

		typ, err := normalizeType(f.Type, path)
		if err != nil {
			return nil, err
		}
		def, err := canonicalJSON(f.Default)
		if err != nil {
			return nil, ErrMalformed(path, "invalid default value: %v", err)
		}
		out[i] = Field{
			Name:     name,
			Type:     typ,
			Nullable: f.Nullable,
			Default:  def,
			Doc:      f.Doc,
		}
	}
	return out, nil
}

func normalizeType(t Type, path string) (Type, error) {
	kind := TypeKind(strings.ToLower(strings.TrimSpace(string(t.Kind))))
	if alias, ok := kindAliases[string(kind)]; ok {
		kind = alias
	}

	switch {
	case kind == "":
		return Type{}, ErrMalformed(path, "missing type kind")
	case kind.IsPrimitive():
		if t.Element != nil || t.Value != nil || len(t.Fields) > 0 || len(t.Options) > 0 {
			return Type{}, ErrMalformed(path, "primitive type %q must not declare nested types", kind)
		}
		return Type{Kind: kind}, nil
	}

	switch kind {
	case KindArray:
		if t.Element == nil {
			return Type{}, ErrMalformed(path, "array type requires an element type")
		}
		elem, err := normalizeType(*t.Element, path+"[]")
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: KindArray, Element: &elem}, nil

	case KindMap:
		if t.Value == nil {
			return Type{}, ErrMalformed(path, "map type requires a value type")
		}
		val, err := normalizeType(*t.Value, path+"{}")
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: KindMap, Value: &val}, nil

	case KindRecord:
		fields, err := normalizeFields(t.Fields, path)
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: KindRecord, Fields: fields}, nil

	case KindUnion:
		if len(t.Options) == 0 {
			return Type{}, ErrMalformed(path, "union type requires at least one option")
		}
		opts := make([]Type, len(t.Options))
		seen := make(map[string]bool, len(t.Options))
		for i, o := range t.Options {
			opt, err := normalizeType(o, path+"|"+strconv.Itoa(i))
			if err != nil {
				return Type{}, err
			}
			if opt.Kind == KindUnion {
				return Type{}, ErrMalformed(path, "unions must not directly contain unions")
			}
			sig := opt.Signature()
			if seen[sig] {
				return Type{}, ErrMalformed(path, "duplicate union member %s", sig)
			}
			seen[sig] = true
			opts[i] = opt
		}
		return Type{Kind: KindUnion, Options: opts}, nil
	}

	return Type{}, ErrMalformed(path, "unknown type kind %q", t.Kind)
}

// canonicalJSON re-encodes raw so that semantically equal defaults compare
// byte-equal (object keys sorted, insignificant whitespace removed).
func canonicalJSON(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Signature renders a type as a canonical string. Union members are sorted so
// two unions with the same member set share a signature. Record signatures
// cover field names, types, nullability and defaults but not docstrings.
func (t Type) Signature() string {
	var b strings.Builder
	t.writeSignature(&b)
	return b.String()
}

func (t Type) writeSignature(b *strings.Builder) {
	switch t.Kind {
	case KindArray:
		b.WriteString("array<")
		if t.Element != nil {
			t.Element.writeSignature(b)
		}
		b.WriteString(">")
	case KindMap:
		b.WriteString("map<")
		if t.Value != nil {
			t.Value.writeSignature(b)
		}
		b.WriteString(">")
	case KindRecord:
		fields := sortedFields(t.Fields)
		b.WriteString("record{")
		for i, f := range fields {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(f.Name)
			b.WriteString(":")
			f.Type.writeSignature(b)
			if f.Nullable {
				b.WriteString("?")
			}
			if f.HasDefault() {
				b.WriteString("=")
				b.Write(f.Default)
			}
		}
		b.WriteString("}")
	case KindUnion:
		sigs := t.MemberSignatures()
		b.WriteString("union[")
		b.WriteString(strings.Join(sigs, "|"))
		b.WriteString("]")
	default:
		b.WriteString(string(t.Kind))
	}
}

// MemberSignatures returns the sorted signatures of a union's options. For a
// non-union type it returns the type's own signature.
func (t Type) MemberSignatures() []string {
	if t.Kind != KindUnion {
		return []string{t.Signature()}
	}
	sigs := make([]string, len(t.Options))
	for i, o := range t.Options {
		sigs[i] = o.Signature()
	}
	sort.Strings(sigs)
	return sigs
}

// Equal reports whether two types are structurally identical.
func (t Type) Equal(o Type) bool { return t.Signature() == o.Signature() }

// ContentHash returns a stable "sha256:<hex>" digest of the normalized schema.
// Field declaration order does not affect the hash.
func (s Schema) ContentHash() (string, error) {
	norm, err := s.Normalize()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(canonicalSchema(norm))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Equal reports whether two schemas have the same content, ignoring field order.
func (s Schema) Equal(o Schema) bool {
	a, errA := s.ContentHash()
	b, errB := o.ContentHash()
	return errA == nil && errB == nil && a == b
}

func canonicalSchema(s Schema) Schema {
	return Schema{Fields: canonicalFields(s.Fields)}
}

func canonicalFields(fields []Field) []Field {
	out := sortedFields(fields)
	for i := range out {
		out[i].Type = canonicalType(out[i].Type)
	}
	return out
}

func canonicalType(t Type) Type {
	switch t.Kind {
	case KindArray:
		if t.Element != nil {
			e := canonicalType(*t.Element)
			t.Element = &e
		}
	case KindMap:
		if t.Value != nil {
			v := canonicalType(*t.Value)
			t.Value = &v
		}
	case KindRecord:
		t.Fields = canonicalFields(t.Fields)
	case KindUnion:
		opts := make([]Type, len(t.Options))
		for i, o := range t.Options {
			opts[i] = canonicalType(o)
		}
		sort.SliceStable(opts, func(i, j int) bool { return opts[i].Signature() < opts[j].Signature() })
		t.Options = opts
	}
	return t
}

func sortedFields(fields []Field) []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// JoinFieldPath builds the dotted path of a nested field.
func JoinFieldPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
