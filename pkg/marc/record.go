// Package marc models MARC 21 bibliographic records and writes them in the
// ISO 2709 transmission format.
package marc

import (
	"fmt"
	"strings"
)

// LeaderLength is the fixed size of a record leader.
const LeaderLength = 24

// Subfield is one coded value inside a data field.
type Subfield struct {
	Code  byte
	Value string
}

// Field is either a control field (tag below 010, Data set) or a data field
// (indicators plus subfields).
type Field struct {
	Tag       string
	Data      string
	Ind1      byte
	Ind2      byte
	Subfields []Subfield
}

// IsControl reports whether the field carries raw data instead of subfields.
func (f Field) IsControl() bool {
	return f.Tag < "010"
}

// Value returns the first subfield with code, or an empty string.
func (f Field) Value(code byte) string {
	for _, sf := range f.Subfields {
		if sf.Code == code {
			return sf.Value
		}
	}
	return ""
}

// Record is a MARC record with fields kept in insertion order.
type Record struct {
	Leader string
	Fields []Field
}

// NewRecord returns an empty record using leader.
func NewRecord(leader string) *Record {
	return &Record{Leader: leader}
}

// AddControlField appends a control field.
func (r *Record) AddControlField(tag, data string) {
	r.Fields = append(r.Fields, Field{Tag: tag, Data: data})
}

// AddDataField appends a data field. Blank indicators are passed as ' '.
func (r *Record) AddDataField(tag string, ind1, ind2 byte, subfields ...Subfield) {
	r.Fields = append(r.Fields, Field{Tag: tag, Ind1: ind1, Ind2: ind2, Subfields: subfields})
}

// Get returns every field with tag in record order.
func (r *Record) Get(tag string) []Field {
	var out []Field
	for _, f := range r.Fields {
		if f.Tag == tag {
			out = append(out, f)
		}
	}
	return out
}

// String renders the record in the line-per-field mnemonic form used for review,
// e.g. "=245  10$aTitle".
func (r *Record) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=LDR  %s\n", r.Leader)
	for _, f := range r.Fields {
		if f.IsControl() {
			fmt.Fprintf(&b, "=%s  %s\n", f.Tag, strings.ReplaceAll(f.Data, " ", "\\"))
			continue
		}
		fmt.Fprintf(&b, "=%s  %c%c", f.Tag, indicator(f.Ind1), indicator(f.Ind2))
		for _, sf := range f.Subfields {
			fmt.Fprintf(&b, "$%c%s", sf.Code, sf.Value)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func indicator(b byte) byte {
	if b == 0 || b == ' ' {
		return '\\'
	}
	return b
}
