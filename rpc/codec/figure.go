package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/wcharczuk/go-chart/v2"
)

// Renderable is any chart that can draw itself as a raster image. Both
// chart.Chart and chart.BarChart satisfy it.
type Renderable interface {
	Render(rp chart.RendererProvider, w io.Writer) error
}

// EncodeFigure renders the figure to a PNG in memory and base64-encodes the
// bytes for embedding in a Message's text payload. The figure holds no
// native resources after rendering, the in-memory buffer is all that
// remains.
func EncodeFigure(fig Renderable) (string, error) {
	var buf bytes.Buffer
	if err := fig.Render(chart.PNG, &buf); err != nil {
		return "", fmt.Errorf("render figure: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeFigure reverses EncodeFigure into a displayable image. Decoding
// never fails for output produced by EncodeFigure.
func DecodeFigure(s string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode figure: invalid base64: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode figure: %w", err)
	}
	return img, nil
}

// --------------------------------------------------------------------------
// Chart construction
// --------------------------------------------------------------------------

// NewBarChart builds a bar chart from a two-column (label, numeric) table,
// the shape every aggregation query returns.
func NewBarChart(title string, t *Table) (chart.BarChart, error) {
	if len(t.Columns) < 2 {
		return chart.BarChart{}, fmt.Errorf("bar chart needs a label and a value column, got %d columns", len(t.Columns))
	}
	if len(t.Rows) == 0 {
		return chart.BarChart{}, fmt.Errorf("bar chart needs at least one row")
	}

	bars := make([]chart.Value, 0, len(t.Rows))
	for i, row := range t.Rows {
		label, ok := row[0].(string)
		if !ok {
			return chart.BarChart{}, fmt.Errorf("row %d: label column is not a string", i)
		}
		value, err := toFloat(row[1])
		if err != nil {
			return chart.BarChart{}, fmt.Errorf("row %d: %w", i, err)
		}
		bars = append(bars, chart.Value{Label: label, Value: value})
	}

	return chart.BarChart{
		Title:    title,
		Width:    900,
		Height:   500,
		BarWidth: 40,
		Bars:     bars,
	}, nil
}

// toFloat widens any numeric cell type to float64.
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}
