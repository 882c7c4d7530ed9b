package dataset

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/statq/statq/rpc/codec"
)

// Query types understood by the Processor.
const (
	QueryAgeDistribution   = "age_distribution"
	QueryTopChargeGroups   = "top_charge_groups"
	QueryArrestsByArea     = "arrests_by_area"
	QueryArrestsByTime     = "arrests_by_time"
	QueryArrestsByMonth    = "arrests_by_month"
	QueryArrestsByGender   = "arrests_by_gender"
	QueryArrestsByWeek     = "arrests_by_weekday"
	QueryArrestsByAgeRange = "arrests_by_age_range"
	QueryChargeTypesByArea = "charge_types_by_area"
)

// QueryDescriptions maps each query type to a human readable summary, used
// by the CLI and the metadata response.
var QueryDescriptions = map[string]string{
	QueryAgeDistribution:   "Age distribution of arrested individuals",
	QueryTopChargeGroups:   "Top charge groups by frequency",
	QueryArrestsByArea:     "Arrests by geographic area",
	QueryArrestsByTime:     "Arrests by hour of day",
	QueryArrestsByMonth:    "Arrests by month",
	QueryArrestsByGender:   "Arrests by gender",
	QueryArrestsByWeek:     "Arrests by weekday",
	QueryArrestsByAgeRange: "Arrest counts for fixed or custom age ranges",
	QueryChargeTypesByArea: "Charge type mix of the busiest areas, in percent",
}

// Processor executes statistical queries against a Dataset. It holds no
// mutable state, all methods are safe for concurrent use.
type Processor struct {
	ds *Dataset
}

// NewProcessor creates a processor over the given dataset.
func NewProcessor(ds *Dataset) *Processor {
	return &Processor{ds: ds}
}

// Process runs one query and returns its result table. Unknown query types
// are an error.
func (p *Processor) Process(queryType string, parameters map[string]any) (*codec.Table, error) {
	switch queryType {
	case QueryAgeDistribution:
		return p.ageDistribution(intParam(parameters, "bin_width", 10))
	case QueryTopChargeGroups:
		return p.topChargeGroups(intParam(parameters, "limit", 10))
	case QueryArrestsByArea:
		return p.countBy("area", func(r Record) string { return r.Area }, true)
	case QueryArrestsByGender:
		return p.countBy("sex", func(r Record) string { return r.Sex }, true)
	case QueryArrestsByTime:
		return p.arrestsByTime()
	case QueryArrestsByMonth:
		return p.arrestsByMonth()
	case QueryArrestsByWeek:
		return p.arrestsByWeekday()
	case QueryArrestsByAgeRange:
		return p.arrestsByAgeRange(
			intParam(parameters, "min_age", -1), intParam(parameters, "max_age", -1))
	case QueryChargeTypesByArea:
		return p.chargeTypesByArea(
			intParam(parameters, "n_areas", 5), intParam(parameters, "n_charges", 5))
	default:
		return nil, fmt.Errorf("unknown query type %q", queryType)
	}
}

// Metadata describes the dataset to clients: distinct values, record count
// and covered date range.
func (p *Processor) Metadata() map[string]any {
	start, end := p.ds.DateRange()
	return map[string]any{
		"record_count":  p.ds.Len(),
		"areas":         p.ds.Areas(),
		"charge_groups": p.ds.ChargeGroups(),
		"date_start":    start.Format("2006-01-02"),
		"date_end":      end.Format("2006-01-02"),
		"queries":       QueryDescriptions,
	}
}

// --------------------------------------------------------------------------
// Query implementations
// --------------------------------------------------------------------------

func (p *Processor) ageDistribution(binWidth int) (*codec.Table, error) {
	if binWidth < 1 {
		return nil, fmt.Errorf("bin_width must be positive, got %d", binWidth)
	}

	bins := map[int]int{}
	for _, r := range p.ds.records {
		bins[r.Age/binWidth]++
	}

	keys := make([]int, 0, len(bins))
	for k := range bins {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	t := codec.NewTable("age_range", "count")
	for _, k := range keys {
		label := fmt.Sprintf("%d-%d", k*binWidth, (k+1)*binWidth-1)
		if err := t.Append(label, bins[k]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (p *Processor) topChargeGroups(limit int) (*codec.Table, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	t, err := p.countBy("charge_group", func(r Record) string { return r.ChargeGroup }, true)
	if err != nil {
		return nil, err
	}
	if len(t.Rows) > limit {
		t.Rows = t.Rows[:limit]
	}
	return t, nil
}

// countBy aggregates record counts by an arbitrary key. With byCount the
// result is ordered most frequent first, otherwise alphabetically.
func (p *Processor) countBy(column string, key func(Record) string, byCount bool) (*codec.Table, error) {
	counts := map[string]int{}
	for _, r := range p.ds.records {
		if k := key(r); k != "" {
			counts[k]++
		}
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	if byCount {
		sort.Slice(keys, func(i, j int) bool {
			if counts[keys[i]] != counts[keys[j]] {
				return counts[keys[i]] > counts[keys[j]]
			}
			return keys[i] < keys[j]
		})
	} else {
		sort.Strings(keys)
	}

	t := codec.NewTable(column, "count")
	for _, k := range keys {
		if err := t.Append(k, counts[k]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (p *Processor) arrestsByTime() (*codec.Table, error) {
	counts := map[int]int{}
	for _, r := range p.ds.records {
		if r.Hour >= 0 {
			counts[r.Hour]++
		}
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("dataset has no time column")
	}

	hours := make([]int, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Ints(hours)

	t := codec.NewTable("hour", "count")
	for _, h := range hours {
		if err := t.Append(fmt.Sprintf("%02d", h), counts[h]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// defaultAgeRanges is the fixed breakdown used when no custom range is
// requested. Bounds are inclusive.
var defaultAgeRanges = [][2]int{
	{10, 17}, {18, 25}, {26, 35}, {36, 45}, {46, 55}, {56, 65}, {66, 100},
}

// arrestsByAgeRange counts per individual age inside a custom [min,max]
// range, or falls back to the fixed ranges when none is given.
func (p *Processor) arrestsByAgeRange(minAge, maxAge int) (*codec.Table, error) {
	if minAge >= 0 && maxAge >= 0 {
		if maxAge < minAge {
			return nil, fmt.Errorf("max_age %d is below min_age %d", maxAge, minAge)
		}

		counts := map[int]int{}
		for _, r := range p.ds.records {
			if r.Age >= minAge && r.Age <= maxAge {
				counts[r.Age]++
			}
		}
		ages := make([]int, 0, len(counts))
		for a := range counts {
			ages = append(ages, a)
		}
		sort.Ints(ages)

		t := codec.NewTable("age", "count")
		for _, a := range ages {
			if err := t.Append(fmt.Sprintf("%d", a), counts[a]); err != nil {
				return nil, err
			}
		}
		return t, nil
	}

	t := codec.NewTable("age_range", "count")
	for _, ar := range defaultAgeRanges {
		count := 0
		for _, r := range p.ds.records {
			if r.Age >= ar[0] && r.Age <= ar[1] {
				count++
			}
		}
		if err := t.Append(fmt.Sprintf("%d-%d", ar[0], ar[1]), count); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// chargeTypesByArea cross-tabulates the top areas against the top charge
// groups. Cells are the percentage each charge group contributes to its
// area's arrests within the selection.
func (p *Processor) chargeTypesByArea(nAreas, nCharges int) (*codec.Table, error) {
	if nAreas < 1 || nCharges < 1 {
		return nil, fmt.Errorf("n_areas and n_charges must be positive, got %d and %d", nAreas, nCharges)
	}

	topAreas, err := p.topKeys(func(r Record) string { return r.Area }, nAreas)
	if err != nil {
		return nil, err
	}
	topCharges, err := p.topKeys(func(r Record) string { return r.ChargeGroup }, nCharges)
	if err != nil {
		return nil, err
	}
	sort.Strings(topAreas)
	sort.Strings(topCharges)

	inCharges := map[string]int{}
	for i, c := range topCharges {
		inCharges[c] = i
	}

	// charge counts and row totals per selected area
	cells := map[string][]int{}
	totals := map[string]int{}
	for _, area := range topAreas {
		cells[area] = make([]int, len(topCharges))
	}
	for _, r := range p.ds.records {
		row, ok := cells[r.Area]
		if !ok {
			continue
		}
		if i, ok := inCharges[r.ChargeGroup]; ok {
			row[i]++
			totals[r.Area]++
		}
	}

	t := codec.NewTable(append([]string{"area"}, topCharges...)...)
	for _, area := range topAreas {
		total := totals[area]
		if total == 0 {
			// none of the selected charges occur in this area
			continue
		}
		row := make([]any, 0, len(topCharges)+1)
		row = append(row, area)
		for _, count := range cells[area] {
			row = append(row, 100*float64(count)/float64(total))
		}
		if err := t.Append(row...); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// topKeys returns the n most frequent values of key, most frequent first.
func (p *Processor) topKeys(key func(Record) string, n int) ([]string, error) {
	t, err := p.countBy("key", key, true)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, n)
	for _, row := range t.Rows {
		if len(keys) == n {
			break
		}
		keys = append(keys, row[0].(string))
	}
	return keys, nil
}

func (p *Processor) arrestsByMonth() (*codec.Table, error) {
	counts := map[time.Month]int{}
	for _, r := range p.ds.records {
		counts[r.Date.Month()]++
	}

	t := codec.NewTable("month", "count")
	for m := time.January; m <= time.December; m++ {
		if err := t.Append(m.String(), counts[m]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (p *Processor) arrestsByWeekday() (*codec.Table, error) {
	counts := map[time.Weekday]int{}
	for _, r := range p.ds.records {
		counts[r.Date.Weekday()]++
	}

	// Monday-first ordering
	t := codec.NewTable("weekday", "count")
	for i := 0; i < 7; i++ {
		day := time.Weekday((i + 1) % 7)
		if err := t.Append(day.String(), counts[day]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// intParam reads an integer parameter that may arrive as a JSON float64 or
// as a string from the CLI.
func intParam(params map[string]any, key string, def int) int {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		return def
	default:
		return def
	}
}
