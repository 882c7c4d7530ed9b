package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"time"
)

// Table is the tabular result payload exchanged between server and client.
// Cells hold any of the registered scalar types below.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Cell types that may appear inside the any-typed rows must be registered
// with gob before first use.
func init() {
	gob.Register("")
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register(time.Time{})
}

// NewTable creates an empty table with the given column names.
func NewTable(columns ...string) *Table {
	return &Table{Columns: columns}
}

// Append adds one row. The number of cells must match the column count.
func (t *Table) Append(cells ...any) error {
	if len(cells) != len(t.Columns) {
		return fmt.Errorf("row has %d cells, table has %d columns", len(cells), len(t.Columns))
	}
	t.Rows = append(t.Rows, cells)
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// --------------------------------------------------------------------------
// Encode / Decode
// --------------------------------------------------------------------------

// EncodeTable serializes the table to its compact binary form and wraps it
// in base64, making it safe to embed in a Message's text payload.
func EncodeTable(t *Table) (string, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(t); err != nil {
		return "", fmt.Errorf("encode table: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeTable reverses EncodeTable. DecodeTable(EncodeTable(t)) reproduces
// t's structure and values exactly.
func DecodeTable(s string) (*Table, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode table: invalid base64: %w", err)
	}
	var t Table
	dec := gob.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}
	return &t, nil
}
