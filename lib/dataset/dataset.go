package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/statq/statq/rpc/common"
)

var logger = common.GetLogger("dataset")

// Column names expected in the CSV header. The time column is optional,
// records without it carry no hour.
const (
	colDate   = "Arrest Date"
	colTime   = "Time"
	colArea   = "Area Name"
	colAge    = "Age"
	colSex    = "Sex Code"
	colCharge = "Charge Group Description"
)

// Record is one arrest entry.
type Record struct {
	Date time.Time

	// Hour of day in 0..23, or -1 when the dataset has no time column.
	Hour int

	Area        string
	Age         int
	Sex         string
	ChargeGroup string
}

// Dataset is the immutable in-memory collection queries run against.
type Dataset struct {
	records []Record
}

// Load reads the dataset from a CSV file. Rows with an unparseable date or
// age are skipped, not fatal, so one bad row does not take the server down.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	ds, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", path, err)
	}
	logger.Info().Int("records", ds.Len()).Str("path", path).Msg("dataset loaded")
	return ds, nil
}

// Read parses CSV data with a header row naming at least the five expected
// columns.
func Read(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := map[string]int{}
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{colDate, colArea, colAge, colSex, colCharge} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var records []Record
	skipped := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		rec, err := parseRecord(row, idx)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if skipped > 0 {
		logger.Warn().Int("skipped", skipped).Msg("dropped unparseable rows")
	}
	return &Dataset{records: records}, nil
}

func parseRecord(row []string, idx map[string]int) (Record, error) {
	get := func(col string) string {
		i := idx[col]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	date, err := parseDate(get(colDate))
	if err != nil {
		return Record{}, err
	}
	age, err := strconv.Atoi(get(colAge))
	if err != nil {
		return Record{}, fmt.Errorf("invalid age: %w", err)
	}

	// time is HHMM (e.g. "1030"), absent or unparseable leaves no hour
	hour := -1
	if i, ok := idx[colTime]; ok && i < len(row) {
		if n, err := strconv.Atoi(strings.TrimSpace(row[i])); err == nil && n >= 0 && n <= 2359 {
			hour = n / 100
		}
	}

	return Record{
		Date:        date,
		Hour:        hour,
		Area:        get(colArea),
		Age:         age,
		Sex:         get(colSex),
		ChargeGroup: get(colCharge),
	}, nil
}

// parseDate accepts the two date layouts seen in the source data.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.records)
}

// Areas returns the sorted set of distinct area names.
func (d *Dataset) Areas() []string {
	return d.distinct(func(r Record) string { return r.Area })
}

// ChargeGroups returns the sorted set of distinct charge group descriptions.
func (d *Dataset) ChargeGroups() []string {
	return d.distinct(func(r Record) string { return r.ChargeGroup })
}

// DateRange returns the earliest and latest record dates.
func (d *Dataset) DateRange() (time.Time, time.Time) {
	if len(d.records) == 0 {
		return time.Time{}, time.Time{}
	}
	min, max := d.records[0].Date, d.records[0].Date
	for _, r := range d.records[1:] {
		if r.Date.Before(min) {
			min = r.Date
		}
		if r.Date.After(max) {
			max = r.Date
		}
	}
	return min, max
}

func (d *Dataset) distinct(key func(Record) string) []string {
	seen := map[string]struct{}{}
	for _, r := range d.records {
		if k := key(r); k != "" {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
