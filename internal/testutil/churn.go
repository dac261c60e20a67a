// Package testutil generates deterministic synthetic churn datasets in the layout of the
// telecom churn data the dashboard ships with. It is used by package tests and by the
// sample-data script.
package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"

	"churn-engine/internal/dataset"
)

// ChurnColumns is the header produced by ChurnFrame.
var ChurnColumns = []string{
	"State", "Account_Length", "Area_Code", "Phone_No", "Intl_Plan", "VMail_Plan",
	"VMail_Message", "Total_Day_charge", "Total_Eve_Charge", "Total_Night_Charge",
	"Total_Intl_Charge", "CustServ_Calls", "Churn?",
}

var states = []string{
	"KS", "OH", "NJ", "OK", "AL", "MA", "MO", "LA", "WV", "IN",
	"RI", "IA", "MT", "NY", "ID", "VT", "VA", "TX", "FL", "CO",
}

// ChurnFrame generates n customers of which round(n*positiveRate) are labelled "True.".
// Churn is driven mostly by day charges, the international plan and customer service
// calls, so a fitted model has real signal to explain. Every 97th customer is missing
// its evening charge.
func ChurnFrame(n int, positiveRate float64, seed int64) *dataset.Frame {
	rnd := rand.New(rand.NewSource(seed))

	rows := make([][]string, n)
	risk := make([]float64, n)
	for i := 0; i < n; i++ {
		intl := rnd.Float64() < 0.1
		vmail := rnd.Float64() < 0.27
		msgs := 0
		if vmail {
			msgs = 10 + rnd.Intn(40)
		}
		day := math.Max(0, 30+9*rnd.NormFloat64())
		eve := math.Max(0, 17+4*rnd.NormFloat64())
		night := math.Max(0, 9+2.3*rnd.NormFloat64())
		intlCharge := math.Max(0, 2.8+0.75*rnd.NormFloat64())
		calls := rnd.Intn(4)
		if rnd.Float64() < 0.15 {
			calls += 2 + rnd.Intn(4)
		}

		risk[i] = 0.15*day + 0.12*eve + 2.2*b2f(intl) - 0.9*b2f(vmail) +
			0.7*math.Max(float64(calls)-3, 0) + 0.4*intlCharge + 0.8*rnd.NormFloat64()

		eveCell := fmt.Sprintf("%.2f", eve)
		if i%97 == 96 {
			eveCell = ""
		}

		rows[i] = []string{
			states[rnd.Intn(len(states))],
			strconv.Itoa(1 + rnd.Intn(240)),
			[]string{"408", "415", "510"}[rnd.Intn(3)],
			fmt.Sprintf("%03d-%04d", 330+i/10000, i%10000),
			yesNo(intl),
			yesNo(vmail),
			strconv.Itoa(msgs),
			fmt.Sprintf("%.2f", day),
			eveCell,
			fmt.Sprintf("%.2f", night),
			fmt.Sprintf("%.2f", intlCharge),
			strconv.Itoa(calls),
			"False.",
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return risk[order[a]] > risk[order[b]] })

	positives := int(math.Round(float64(n) * positiveRate))
	for _, idx := range order[:positives] {
		rows[idx][len(ChurnColumns)-1] = "True."
	}

	frame, err := dataset.New(ChurnColumns, rows)
	if err != nil {
		panic(err)
	}
	return frame
}

// ScoringFrame is ChurnFrame without the target column.
func ScoringFrame(n int, seed int64) *dataset.Frame {
	return WithoutColumn(ChurnFrame(n, 0.14, seed), "Churn?")
}

// WithoutColumn returns a copy of frame with one column dropped.
func WithoutColumn(frame *dataset.Frame, column string) *dataset.Frame {
	drop, ok := frame.ColumnIndex(column)
	if !ok {
		return frame
	}

	var columns []string
	for i, c := range frame.Columns() {
		if i != drop {
			columns = append(columns, c)
		}
	}

	rows := make([][]string, frame.Len())
	for r := range rows {
		src := frame.Row(r)
		row := make([]string, 0, len(columns))
		row = append(row, src[:drop]...)
		row = append(row, src[drop+1:]...)
		rows[r] = row
	}

	out, err := dataset.New(columns, rows)
	if err != nil {
		panic(err)
	}
	return out
}

// WithValue returns a copy of frame with one cell replaced.
func WithValue(frame *dataset.Frame, row int, column, value string) *dataset.Frame {
	col, ok := frame.ColumnIndex(column)
	if !ok {
		panic("unknown column " + column)
	}

	rows := make([][]string, frame.Len())
	for r := range rows {
		rows[r] = append([]string(nil), frame.Row(r)...)
	}
	rows[row][col] = value

	out, err := dataset.New(frame.Columns(), rows)
	if err != nil {
		panic(err)
	}
	return out
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// MapColumn returns a copy of frame with fn applied to every cell of one column.
func MapColumn(frame *dataset.Frame, column string, fn func(row int, v string) string) *dataset.Frame {
	values, err := frame.Column(column)
	if err != nil {
		panic(err)
	}
	for i, v := range values {
		values[i] = fn(i, v)
	}
	out, err := frame.WithColumn(column, values)
	if err != nil {
		panic(err)
	}
	return out
}
