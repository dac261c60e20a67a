// Package preprocess turns raw customer records into fixed-length numeric vectors.
//
// Fit learns every statistic from the training frame once: category vocabularies,
// medians for imputation, and means and scales for standardisation. The resulting Fitted
// value is never refitted; scoring and explanation reuse it verbatim. Categorical columns
// are one-hot encoded with slot 0 of each block reserved for categories that were not
// seen at fit time.
package preprocess

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"churn-engine/internal/dataset"
	"churn-engine/internal/schema"

	"gonum.org/v1/gonum/stat"
)

// UnknownCategory labels the reserved slot of a categorical block.
const UnknownCategory = "<unknown>"

const driftBins = 10

// Encoding describes how one schema feature maps onto the encoded vector.
type Encoding struct {
	Name   string            `json:"name"`
	Type   schema.ColumnType `json:"type"`
	Offset int               `json:"offset"`
	Width  int               `json:"width"`

	Median float64 `json:"median,omitempty"`
	Mean   float64 `json:"mean,omitempty"`
	Scale  float64 `json:"scale,omitempty"`

	Categories []string `json:"categories,omitempty"`

	// Edges are interior quantile cut points of the imputed training column; Baseline
	// holds the training share of each bin (numeric) or each slot (categorical).
	Edges    []float64 `json:"edges,omitempty"`
	Baseline []float64 `json:"baseline"`

	lookup map[string]int
}

// Fitted is the learned, immutable preprocessing state.
type Fitted struct {
	Features []Encoding `json:"features"`
	Width    int        `json:"width"`
}

// Fit learns encodings for every feature of s from frame.
func Fit(frame *dataset.Frame, s *schema.Schema) (*Fitted, error) {
	if frame.Len() == 0 {
		return nil, fmt.Errorf("cannot fit preprocessor on an empty frame")
	}

	fitted := &Fitted{Features: make([]Encoding, 0, len(s.Features))}
	offset := 0
	for _, col := range s.Features {
		values, err := frame.Column(col.Name)
		if err != nil {
			return nil, err
		}

		var enc Encoding
		switch col.Type {
		case schema.Numeric:
			enc, err = fitNumeric(col.Name, values)
		case schema.Categorical:
			enc = fitCategorical(col.Name, values)
		default:
			err = fmt.Errorf("feature %q has unknown type %q", col.Name, col.Type)
		}
		if err != nil {
			return nil, err
		}

		enc.Offset = offset
		offset += enc.Width
		fitted.Features = append(fitted.Features, enc)
	}
	fitted.Width = offset

	return fitted, nil
}

func fitNumeric(name string, raw []string) (Encoding, error) {
	observed := make([]float64, 0, len(raw))
	parsed := make([]float64, len(raw))
	present := make([]bool, len(raw))
	for i, v := range raw {
		f, ok, err := schema.ParseNumeric(v)
		if err != nil {
			return Encoding{}, fmt.Errorf("feature %q row %d: %w", name, i, err)
		}
		if ok {
			observed = append(observed, f)
			parsed[i], present[i] = f, true
		}
	}

	median := 0.0
	if len(observed) > 0 {
		sort.Float64s(observed)
		median = stat.Quantile(0.5, stat.Empirical, observed, nil)
	}

	imputed := make([]float64, len(raw))
	for i := range raw {
		if present[i] {
			imputed[i] = parsed[i]
		} else {
			imputed[i] = median
		}
	}

	mean, std := stat.MeanStdDev(imputed, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}

	sort.Float64s(imputed)
	var edges []float64
	for q := 1; q < driftBins; q++ {
		e := stat.Quantile(float64(q)/driftBins, stat.Empirical, imputed, nil)
		if len(edges) == 0 || e > edges[len(edges)-1] {
			edges = append(edges, e)
		}
	}

	enc := Encoding{
		Name:   name,
		Type:   schema.Numeric,
		Width:  1,
		Median: median,
		Mean:   mean,
		Scale:  std,
		Edges:  edges,
	}
	enc.Baseline = make([]float64, len(edges)+1)
	for _, v := range imputed {
		enc.Baseline[enc.Bin(v)]++
	}
	for i := range enc.Baseline {
		enc.Baseline[i] /= float64(len(imputed))
	}
	return enc, nil
}

func fitCategorical(name string, raw []string) Encoding {
	counts := make(map[string]int)
	for _, v := range raw {
		counts[normalizeCategory(v)]++
	}

	categories := make([]string, 0, len(counts))
	for c := range counts {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	enc := Encoding{
		Name:       name,
		Type:       schema.Categorical,
		Width:      len(categories) + 1,
		Categories: categories,
		Baseline:   make([]float64, len(categories)+1),
	}
	enc.buildLookup()
	for i, c := range categories {
		enc.Baseline[i+1] = float64(counts[c]) / float64(len(raw))
	}
	return enc
}

// Transform encodes every row of frame. The frame must carry every feature column.
func (p *Fitted) Transform(frame *dataset.Frame) ([][]float64, error) {
	cols, err := p.columnIndexes(frame)
	if err != nil {
		return nil, err
	}

	out := make([][]float64, frame.Len())
	for r := range out {
		row, err := p.encode(frame.Row(r), cols)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		out[r] = row
	}
	return out, nil
}

// TransformRow encodes a single row of frame.
func (p *Fitted) TransformRow(frame *dataset.Frame, row int) ([]float64, error) {
	cols, err := p.columnIndexes(frame)
	if err != nil {
		return nil, err
	}
	return p.encode(frame.Row(row), cols)
}

func (p *Fitted) columnIndexes(frame *dataset.Frame) ([]int, error) {
	cols := make([]int, len(p.Features))
	var missing []string
	for i, enc := range p.Features {
		idx, ok := frame.ColumnIndex(enc.Name)
		if !ok {
			missing = append(missing, enc.Name)
			continue
		}
		cols[i] = idx
	}
	if len(missing) > 0 {
		return nil, &schema.MismatchError{MissingColumns: missing}
	}
	return cols, nil
}

func (p *Fitted) encode(cells []string, cols []int) ([]float64, error) {
	vec := make([]float64, p.Width)
	for i := range p.Features {
		enc := &p.Features[i]
		raw := cells[cols[i]]

		switch enc.Type {
		case schema.Numeric:
			v, ok, err := schema.ParseNumeric(raw)
			if err != nil {
				return nil, fmt.Errorf("feature %q: %w", enc.Name, err)
			}
			if !ok {
				v = enc.Median
			}
			vec[enc.Offset] = (v - enc.Mean) / enc.Scale
		case schema.Categorical:
			vec[enc.Offset+enc.Slot(raw)] = 1
		}
	}
	return vec, nil
}

// Slot returns the position of raw within a categorical block; 0 is the unknown slot.
func (e *Encoding) Slot(raw string) int {
	if idx, ok := e.lookup[normalizeCategory(raw)]; ok {
		return idx + 1
	}
	return 0
}

// Bin returns the drift bin of a raw-scale numeric value.
func (e *Encoding) Bin(v float64) int {
	return sort.Search(len(e.Edges), func(i int) bool { return v <= e.Edges[i] })
}

// Groups maps every encoded column to the index of the feature it belongs to.
func (p *Fitted) Groups() []int {
	groups := make([]int, p.Width)
	for i, enc := range p.Features {
		for j := 0; j < enc.Width; j++ {
			groups[enc.Offset+j] = i
		}
	}
	return groups
}

// EncodedNames names every encoded column, e.g. "State=KS" or "State=<unknown>".
func (p *Fitted) EncodedNames() []string {
	names := make([]string, 0, p.Width)
	for _, enc := range p.Features {
		if enc.Type == schema.Numeric {
			names = append(names, enc.Name)
			continue
		}
		names = append(names, enc.Name+"="+UnknownCategory)
		for _, c := range enc.Categories {
			names = append(names, enc.Name+"="+displayCategory(c))
		}
	}
	return names
}

// UnmarshalJSON restores the category lookups that are not serialised.
func (p *Fitted) UnmarshalJSON(data []byte) error {
	type plain Fitted
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Fitted(v)
	for i := range p.Features {
		if p.Features[i].Type == schema.Categorical {
			p.Features[i].buildLookup()
		}
	}
	return nil
}

func (e *Encoding) buildLookup() {
	e.lookup = make(map[string]int, len(e.Categories))
	for i, c := range e.Categories {
		e.lookup[c] = i
	}
}

func normalizeCategory(v string) string {
	if dataset.IsMissing(v) {
		return ""
	}
	return strings.TrimSpace(v)
}

func displayCategory(c string) string {
	if c == "" {
		return "<missing>"
	}
	return c
}
