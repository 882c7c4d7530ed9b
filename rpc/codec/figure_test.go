package codec

import (
	"strings"
	"testing"
)

func chartTable(t *testing.T) *Table {
	t.Helper()
	tbl := NewTable("area", "count")
	for _, row := range [][]any{
		{"Central", 42},
		{"Harbor", 17},
		{"Hollywood", 29},
	} {
		if err := tbl.Append(row...); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	return tbl
}

func TestFigureRoundTrip(t *testing.T) {
	fig, err := NewBarChart("Arrests by Area", chartTable(t))
	if err != nil {
		t.Fatalf("chart construction failed: %v", err)
	}

	encoded, err := EncodeFigure(fig)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if encoded == "" {
		t.Fatal("encoded figure is empty")
	}

	img, err := DecodeFigure(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 900 || bounds.Dy() != 500 {
		t.Errorf("unexpected image size: %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestNewBarChartRejectsBadTables(t *testing.T) {
	if _, err := NewBarChart("t", NewTable("only-labels")); err == nil {
		t.Error("expected an error for a single-column table")
	}
	if _, err := NewBarChart("t", NewTable("label", "value")); err == nil {
		t.Error("expected an error for an empty table")
	}

	tbl := NewTable("label", "value")
	tbl.Append(3.14, "Central") // columns swapped
	if _, err := NewBarChart("t", tbl); err == nil || !strings.Contains(err.Error(), "label") {
		t.Errorf("expected a label type error, got %v", err)
	}
}

func TestDecodeFigureInvalid(t *testing.T) {
	if _, err := DecodeFigure("not base64 !!!"); err == nil {
		t.Fatal("expected an error for invalid base64")
	}
	// valid base64, but not a PNG
	if _, err := DecodeFigure("aGVsbG8gd29ybGQ="); err == nil {
		t.Fatal("expected an error for a non-PNG body")
	}
}
