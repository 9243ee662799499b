package marc

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zip"
)

const (
	subfieldDelimiter = 0x1F
	fieldTerminator   = 0x1E
	recordTerminator  = 0x1D

	directoryEntryLength = 12
	maxRecordLength      = 99999
)

// Marshal encodes r as an ISO 2709 record. Record length and base address in
// the leader are recomputed from the fields.
func Marshal(r *Record) ([]byte, error) {
	if len(r.Leader) != LeaderLength {
		return nil, fmt.Errorf("marc: leader must be %d bytes, got %d", LeaderLength, len(r.Leader))
	}

	var directory, data bytes.Buffer
	for _, f := range r.Fields {
		if len(f.Tag) != 3 {
			return nil, fmt.Errorf("marc: invalid tag %q", f.Tag)
		}
		start := data.Len()
		if f.IsControl() {
			data.WriteString(f.Data)
		} else {
			data.WriteByte(blank(f.Ind1))
			data.WriteByte(blank(f.Ind2))
			for _, sf := range f.Subfields {
				data.WriteByte(subfieldDelimiter)
				data.WriteByte(sf.Code)
				data.WriteString(sf.Value)
			}
		}
		data.WriteByte(fieldTerminator)
		length := data.Len() - start
		if length > 9999 || start > 99999 {
			return nil, fmt.Errorf("marc: field %s exceeds directory limits", f.Tag)
		}
		fmt.Fprintf(&directory, "%s%04d%05d", f.Tag, length, start)
	}
	directory.WriteByte(fieldTerminator)

	base := LeaderLength + directory.Len()
	total := base + data.Len() + 1
	if total > maxRecordLength {
		return nil, fmt.Errorf("marc: record length %d exceeds %d", total, maxRecordLength)
	}

	leader := []byte(r.Leader)
	copy(leader[0:5], fmt.Sprintf("%05d", total))
	copy(leader[12:17], fmt.Sprintf("%05d", base))

	out := make([]byte, 0, total)
	out = append(out, leader...)
	out = append(out, directory.Bytes()...)
	out = append(out, data.Bytes()...)
	out = append(out, recordTerminator)
	return out, nil
}

func blank(b byte) byte {
	if b == 0 {
		return ' '
	}
	return b
}

// WriteBatch writes records as a single ISO 2709 entry named entryName inside a
// zip archive on w. The archive is always closed; the first error wins.
func WriteBatch(w io.Writer, entryName string, records []*Record) (err error) {
	zw := zip.NewWriter(w)
	defer func() {
		if cerr := zw.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("marc: close zip: %w", cerr)
		}
	}()

	entry, err := zw.Create(entryName)
	if err != nil {
		return fmt.Errorf("marc: create zip entry: %w", err)
	}
	for i, r := range records {
		raw, err := Marshal(r)
		if err != nil {
			return fmt.Errorf("marc: record %d: %w", i, err)
		}
		if _, err := entry.Write(raw); err != nil {
			return fmt.Errorf("marc: write record %d: %w", i, err)
		}
	}
	return nil
}

// WriteBatchFile writes the zipped batch to f and closes f afterwards, also on
// failure.
func WriteBatchFile(f *os.File, entryName string, records []*Record) (err error) {
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("marc: close %s: %w", f.Name(), cerr)
		}
	}()
	return WriteBatch(f, entryName, records)
}
