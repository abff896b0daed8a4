// Package types implements the scalar type lattice shared by the catalog,
// row layout, and wire session: currently INT64 and STRING. A Datum is a
// tagged scalar value; encoding to the KV store and decoding back are
// type-directed and must round-trip exactly.
package types

import (
	"strconv"

	"github.com/dreamware/torua-sql/internal/dberrors"
)

// Type is one member of the scalar lattice.
type Type int

const (
	Int64 Type = iota
	String
)

func (t Type) String() string {
	switch t {
	case Int64:
		return "int4"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// ToPGOID maps a Type to its PostgreSQL wire OID: INT64 -> 20 (int8),
// STRING -> 25 (text).
func (t Type) ToPGOID() int32 {
	switch t {
	case Int64:
		return 20
	case String:
		return 25
	default:
		return 0
	}
}

// ToPGSize maps a Type to its wire type size: INT64 is fixed at 8 bytes,
// STRING is varlena (-1).
func (t Type) ToPGSize() int16 {
	switch t {
	case Int64:
		return 8
	case String:
		return -1
	default:
		return -1
	}
}

// FromASTString resolves a parser-supplied type name to a Type. Unknown
// names fail with Unsupported, matching §4.2's from_ast_string.
func FromASTString(name string) (Type, error) {
	switch name {
	case "int4", "int", "int64", "integer":
		return Int64, nil
	case "string", "text", "varchar":
		return String, nil
	default:
		return 0, dberrors.Unsupportedf("unsupported type name %q", name)
	}
}

// Datum is a tagged scalar value: exactly one of IntValue/StrValue is
// meaningful, selected by Kind.
type Datum struct {
	StrValue string
	IntValue int64
	Kind     Type
}

// NewInt64 constructs an Int64 datum.
func NewInt64(v int64) Datum { return Datum{Kind: Int64, IntValue: v} }

// NewString constructs a String datum.
func NewString(v string) Datum { return Datum{Kind: String, StrValue: v} }

// Type returns the datum's scalar type.
func (d Datum) Type() Type { return d.Kind }

// Encode converts a Datum to its opaque KV-store byte representation: the
// decimal ASCII of the integer, or the raw string bytes.
func Encode(d Datum) []byte {
	switch d.Kind {
	case Int64:
		return []byte(strconv.FormatInt(d.IntValue, 10))
	case String:
		return []byte(d.StrValue)
	default:
		return nil
	}
}

// Decode reconstructs a Datum from its encoded bytes, type-directed by t.
func Decode(b []byte, t Type) (Datum, error) {
	switch t {
	case Int64:
		v, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return Datum{}, dberrors.InvalidArgumentf("invalid int64 encoding %q: %v", string(b), err)
		}
		return NewInt64(v), nil
	case String:
		return NewString(string(b)), nil
	default:
		return Datum{}, dberrors.Unsupportedf("unknown type %v", t)
	}
}

// Text renders the datum in the plain-text wire format used by DataRow
// cells and by the test-file `query` directive.
func (d Datum) Text() string {
	switch d.Kind {
	case Int64:
		return strconv.FormatInt(d.IntValue, 10)
	case String:
		return d.StrValue
	default:
		return ""
	}
}
