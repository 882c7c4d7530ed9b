package dataset

import (
	"reflect"
	"strings"
	"testing"
)

// testCSV is a hand-built slice of arrest data with known aggregates:
// 8 parseable rows, one bad date, one bad age.
const testCSV = `Arrest Date,Time,Area Name,Age,Sex Code,Charge Group Description
2023-01-02,1030,Central,25,M,Narcotic Drug Laws
2023-01-02,1145,Central,34,F,Driving Under Influence
2023-01-09,0915,Harbor,25,M,Narcotic Drug Laws
2023-02-14,2200,Central,41,M,Aggravated Assault
2023-02-15,0130,Hollywood,19,F,Narcotic Drug Laws
2023-03-03,1800,Harbor,52,M,Driving Under Influence
2023-03-04,1600,Central,28,F,Narcotic Drug Laws
03/20/2023,1200,Hollywood,33,M,Aggravated Assault
not-a-date,0000,Central,30,M,Narcotic Drug Laws
2023-03-25,0000,Central,unknown,F,Narcotic Drug Laws
`

func testDataset(t *testing.T) *Dataset {
	t.Helper()
	ds, err := Read(strings.NewReader(testCSV))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return ds
}

func TestReadSkipsBadRows(t *testing.T) {
	ds := testDataset(t)
	if ds.Len() != 8 {
		t.Fatalf("expected 8 records, got %d", ds.Len())
	}
}

func TestReadMissingColumn(t *testing.T) {
	_, err := Read(strings.NewReader("Arrest Date,Area Name\n2023-01-02,Central\n"))
	if err == nil || !strings.Contains(err.Error(), "missing column") {
		t.Fatalf("expected a missing column error, got %v", err)
	}
}

func TestAccessors(t *testing.T) {
	ds := testDataset(t)

	if got := ds.Areas(); !reflect.DeepEqual(got, []string{"Central", "Harbor", "Hollywood"}) {
		t.Errorf("unexpected areas: %v", got)
	}
	wantGroups := []string{"Aggravated Assault", "Driving Under Influence", "Narcotic Drug Laws"}
	if got := ds.ChargeGroups(); !reflect.DeepEqual(got, wantGroups) {
		t.Errorf("unexpected charge groups: %v", got)
	}

	start, end := ds.DateRange()
	if start.Format("2006-01-02") != "2023-01-02" {
		t.Errorf("unexpected range start: %v", start)
	}
	if end.Format("2006-01-02") != "2023-03-20" {
		t.Errorf("unexpected range end: %v", end)
	}
}

func TestAgeDistribution(t *testing.T) {
	p := NewProcessor(testDataset(t))

	tbl, err := p.Process(QueryAgeDistribution, map[string]any{"bin_width": float64(10)})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	// ages: 25 34 25 41 19 52 28 33
	want := [][]any{
		{"10-19", 1},
		{"20-29", 3},
		{"30-39", 2},
		{"40-49", 1},
		{"50-59", 1},
	}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("unexpected bins:\nwant: %v\ngot:  %v", want, tbl.Rows)
	}
}

func TestAgeDistributionBadBinWidth(t *testing.T) {
	p := NewProcessor(testDataset(t))
	if _, err := p.Process(QueryAgeDistribution, map[string]any{"bin_width": float64(0)}); err == nil {
		t.Fatal("expected an error for bin_width 0")
	}
}

func TestTopChargeGroups(t *testing.T) {
	p := NewProcessor(testDataset(t))

	tbl, err := p.Process(QueryTopChargeGroups, map[string]any{"limit": "2"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	want := [][]any{
		{"Narcotic Drug Laws", 4},
		{"Aggravated Assault", 2}, // ties with DUI, alphabetical wins
	}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("unexpected rows:\nwant: %v\ngot:  %v", want, tbl.Rows)
	}
}

func TestArrestsByArea(t *testing.T) {
	p := NewProcessor(testDataset(t))

	tbl, err := p.Process(QueryArrestsByArea, nil)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	want := [][]any{
		{"Central", 4},
		{"Harbor", 2},
		{"Hollywood", 2},
	}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("unexpected rows:\nwant: %v\ngot:  %v", want, tbl.Rows)
	}
}

func TestArrestsByGender(t *testing.T) {
	p := NewProcessor(testDataset(t))

	tbl, err := p.Process(QueryArrestsByGender, nil)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	want := [][]any{
		{"M", 5},
		{"F", 3},
	}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("unexpected rows:\nwant: %v\ngot:  %v", want, tbl.Rows)
	}
}

func TestArrestsByTime(t *testing.T) {
	p := NewProcessor(testDataset(t))

	tbl, err := p.Process(QueryArrestsByTime, nil)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	// hours: 10 11 9 22 1 18 16 12
	want := [][]any{
		{"01", 1}, {"09", 1}, {"10", 1}, {"11", 1},
		{"12", 1}, {"16", 1}, {"18", 1}, {"22", 1},
	}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("unexpected rows:\nwant: %v\ngot:  %v", want, tbl.Rows)
	}
}

func TestArrestsByTimeWithoutTimeColumn(t *testing.T) {
	csv := "Arrest Date,Area Name,Age,Sex Code,Charge Group Description\n" +
		"2023-01-02,Central,25,M,Narcotic Drug Laws\n"
	ds, err := Read(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if _, err := NewProcessor(ds).Process(QueryArrestsByTime, nil); err == nil {
		t.Fatal("expected an error for a dataset without a time column")
	}
}

func TestArrestsByAgeRange(t *testing.T) {
	p := NewProcessor(testDataset(t))

	t.Run("default ranges", func(t *testing.T) {
		tbl, err := p.Process(QueryArrestsByAgeRange, nil)
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		// ages: 25 34 25 41 19 52 28 33
		want := [][]any{
			{"10-17", 0}, {"18-25", 3}, {"26-35", 3}, {"36-45", 1},
			{"46-55", 1}, {"56-65", 0}, {"66-100", 0},
		}
		if !reflect.DeepEqual(tbl.Rows, want) {
			t.Errorf("unexpected rows:\nwant: %v\ngot:  %v", want, tbl.Rows)
		}
	})

	t.Run("custom range", func(t *testing.T) {
		tbl, err := p.Process(QueryArrestsByAgeRange, map[string]any{
			"min_age": float64(20), "max_age": float64(30),
		})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		want := [][]any{{"25", 2}, {"28", 1}}
		if !reflect.DeepEqual(tbl.Rows, want) {
			t.Errorf("unexpected rows:\nwant: %v\ngot:  %v", want, tbl.Rows)
		}
	})

	t.Run("inverted range", func(t *testing.T) {
		_, err := p.Process(QueryArrestsByAgeRange, map[string]any{
			"min_age": float64(30), "max_age": float64(20),
		})
		if err == nil {
			t.Fatal("expected an error for max_age below min_age")
		}
	})
}

func TestChargeTypesByArea(t *testing.T) {
	p := NewProcessor(testDataset(t))

	tbl, err := p.Process(QueryChargeTypesByArea, map[string]any{
		"n_areas": float64(2), "n_charges": float64(2),
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	// top 2 areas: Central (4), Harbor (ties Hollywood, alphabetical wins);
	// top 2 charges: Narcotic Drug Laws (4), Aggravated Assault (tie, alpha)
	wantColumns := []string{"area", "Aggravated Assault", "Narcotic Drug Laws"}
	if !reflect.DeepEqual(tbl.Columns, wantColumns) {
		t.Fatalf("unexpected columns: %v", tbl.Columns)
	}
	want := [][]any{
		{"Central", 100 * float64(1) / float64(3), 100 * float64(2) / float64(3)},
		{"Harbor", float64(0), float64(100)},
	}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("unexpected rows:\nwant: %v\ngot:  %v", want, tbl.Rows)
	}

	if _, err := p.Process(QueryChargeTypesByArea, map[string]any{"n_areas": float64(0)}); err == nil {
		t.Error("expected an error for n_areas 0")
	}
}

func TestArrestsByMonth(t *testing.T) {
	p := NewProcessor(testDataset(t))

	tbl, err := p.Process(QueryArrestsByMonth, nil)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(tbl.Rows) != 12 {
		t.Fatalf("expected all 12 months, got %d rows", len(tbl.Rows))
	}
	counts := map[string]int{}
	for _, row := range tbl.Rows {
		counts[row[0].(string)] = row[1].(int)
	}
	if counts["January"] != 3 || counts["February"] != 2 || counts["March"] != 3 || counts["December"] != 0 {
		t.Errorf("unexpected month counts: %v", counts)
	}
}

func TestArrestsByWeekday(t *testing.T) {
	p := NewProcessor(testDataset(t))

	tbl, err := p.Process(QueryArrestsByWeek, nil)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(tbl.Rows) != 7 {
		t.Fatalf("expected 7 rows, got %d", len(tbl.Rows))
	}
	if tbl.Rows[0][0] != "Monday" || tbl.Rows[6][0] != "Sunday" {
		t.Errorf("expected Monday-first ordering, got %v ... %v", tbl.Rows[0][0], tbl.Rows[6][0])
	}
	total := 0
	for _, row := range tbl.Rows {
		total += row[1].(int)
	}
	if total != 8 {
		t.Errorf("weekday counts sum to %d, want 8", total)
	}
}

func TestUnknownQuery(t *testing.T) {
	p := NewProcessor(testDataset(t))
	if _, err := p.Process("median_income", nil); err == nil {
		t.Fatal("expected an error for an unknown query type")
	}
}

func TestMetadata(t *testing.T) {
	p := NewProcessor(testDataset(t))
	meta := p.Metadata()

	if meta["record_count"] != 8 {
		t.Errorf("unexpected record_count: %v", meta["record_count"])
	}
	if meta["date_start"] != "2023-01-02" || meta["date_end"] != "2023-03-20" {
		t.Errorf("unexpected date range: %v .. %v", meta["date_start"], meta["date_end"])
	}
	if _, ok := meta["queries"].(map[string]string); !ok {
		t.Errorf("queries has unexpected shape: %T", meta["queries"])
	}
}

func TestIntParam(t *testing.T) {
	cases := []struct {
		params map[string]any
		want   int
	}{
		{nil, 10},
		{map[string]any{}, 10},
		{map[string]any{"limit": float64(5)}, 5},
		{map[string]any{"limit": 7}, 7},
		{map[string]any{"limit": int64(3)}, 3},
		{map[string]any{"limit": "12"}, 12},
		{map[string]any{"limit": "twelve"}, 10},
		{map[string]any{"limit": true}, 10},
	}
	for i, c := range cases {
		if got := intParam(c.params, "limit", 10); got != c.want {
			t.Errorf("case %d: intParam = %d, want %d", i, got, c.want)
		}
	}
}
