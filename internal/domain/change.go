package domain

import (
	"fmt"
	"time"
)

// ChangeKind identifies the kind of a single schema difference.
type ChangeKind string

// Change kinds emitted by the diff engine.
const (
	ChangeFieldAdded         ChangeKind = "FieldAdded"
	ChangeFieldRemoved       ChangeKind = "FieldRemoved"
	ChangeTypeChanged        ChangeKind = "TypeChanged"
	ChangeNullabilityChanged ChangeKind = "NullabilityChanged"
	ChangeDefaultChanged     ChangeKind = "DefaultChanged"
	ChangeDocChanged         ChangeKind = "DocChanged"
)

// Severity is the compatibility class of a change. The numeric order is
// significant: Informational < Additive < Breaking.
type Severity int

// Severity levels.
const (
	SeverityInformational Severity = iota
	SeverityAdditive
	SeverityBreaking
)

func (s Severity) String() string {
	switch s {
	case SeverityInformational:
		return "INFORMATIONAL"
	case SeverityAdditive:
		return "ADDITIVE"
	case SeverityBreaking:
		return "BREAKING"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// ParseSeverity parses the String form of a severity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "INFORMATIONAL":
		return SeverityInformational, nil
	case "ADDITIVE":
		return SeverityAdditive, nil
	case "BREAKING":
		return SeverityBreaking, nil
	}
	return 0, ErrValidation("unknown severity %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Max returns the more severe of s and o.
func (s Severity) Max(o Severity) Severity {
	if o > s {
		return o
	}
	return s
}

// Propagates reports whether downstream datasets need to be notified.
func (s Severity) Propagates() bool { return s >= SeverityAdditive }

// ChangeRecord is one typed difference between two schemas. Before and After
// carry the field as it was and as it is; either is nil when the field did not
// exist on that side. Severity is assigned by the classifier.
type ChangeRecord struct {
	Kind      ChangeKind `json:"kind"`
	FieldPath string     `json:"fieldPath"`
	Before    *Field     `json:"before,omitempty"`
	After     *Field     `json:"after,omitempty"`
	Severity  Severity   `json:"severity"`
}

// SchemaDiff is the classified difference between two consecutive snapshots.
type SchemaDiff struct {
	ID              string         `json:"id"`
	DatasetID       string         `json:"datasetId"`
	FromSequence    int64          `json:"fromSequence"`
	ToSequence      int64          `json:"toSequence"`
	Changes         []ChangeRecord `json:"changes"`
	OverallSeverity Severity       `json:"overallSeverity"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// IsEmpty reports whether the diff carries no structural changes.
func (d SchemaDiff) IsEmpty() bool { return len(d.Changes) == 0 }
