// Package metrics computes conversion-rate metrics over funnel stage counts.
//
// All functions are pure: same input yields same output, no I/O, and stored
// data is never mutated.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/BTreeMap/FunnelCoach/internal/funnel"
	"github.com/BTreeMap/FunnelCoach/internal/models"
)

// UndefinedMark is how an undefined conversion (zero denominator) is
// rendered to users and in exports.
const UndefinedMark = "—"

// ConversionCount is the number of adjacent stage pairs in a five-stage funnel.
const ConversionCount = models.StageCount - 1

// CVR is one stage-to-stage conversion rate. A zero denominator yields an
// undefined value, which is not an error and not 0%.
type CVR struct {
	Percent int  `json:"percent"`
	Defined bool `json:"defined"`
}

// String renders the CVR as a whole percent, or the undefined mark.
func (c CVR) String() string {
	if !c.Defined {
		return UndefinedMark
	}
	return fmt.Sprintf("%d%%", c.Percent)
}

// roundHalfUp rounds to the nearest integer, with .5 rounding away from zero.
// Inputs here are never negative.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

// Conversions computes CVR_i = stages[i+1] / stages[i] for each adjacent
// pair, as whole percents rounded half-up.
func Conversions(stages [models.StageCount]int) [ConversionCount]CVR {
	var out [ConversionCount]CVR
	for i := 0; i < ConversionCount; i++ {
		if stages[i] == 0 {
			continue // undefined, zero value of CVR
		}
		out[i] = CVR{
			Percent: roundHalfUp(100 * float64(stages[i+1]) / float64(stages[i])),
			Defined: true,
		}
	}
	return out
}

// Totals sums a set of rows into one aggregate count row.
func Totals(rows []models.WeekData) models.StageCounts {
	var sum models.StageCounts
	for _, r := range rows {
		sum = sum.Add(r.Counts)
	}
	return sum
}

// FormatHistory renders per-week, per-channel history with CVR lines and
// weekly totals, newest week first.
func FormatHistory(rows []models.WeekData, ft models.FunnelType) string {
	if len(rows) == 0 {
		return "No data recorded yet."
	}

	labels := funnel.StageLabels(ft)
	byWeek := make(map[string][]models.WeekData)
	for _, r := range rows {
		byWeek[r.WeekStart] = append(byWeek[r.WeekStart], r)
	}
	weeks := make([]string, 0, len(byWeek))
	for w := range byWeek {
		weeks = append(weeks, w)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(weeks)))

	var b strings.Builder
	fmt.Fprintf(&b, "History — %s funnel\n", ft)
	for _, week := range weeks {
		fmt.Fprintf(&b, "\nWeek %s\n", week)
		fmt.Fprintf(&b, "%-12s %s  Rej\n", "Channel", abbreviate(labels))
		var weekTotal models.StageCounts
		for _, row := range byWeek[week] {
			weekTotal = weekTotal.Add(row.Counts)
			b.WriteString(formatCountsLine(truncate(row.Channel, 12), row.Counts))
			b.WriteString(formatCVRLine(row.Counts.Stages))
		}
		if len(byWeek[week]) > 1 {
			b.WriteString(formatCountsLine("TOTAL", weekTotal))
			b.WriteString(formatCVRLine(weekTotal.Stages))
		}
	}
	return b.String()
}

// FormatSummary renders aggregate totals and conversions for a set of rows,
// e.g. the last N weeks.
func FormatSummary(rows []models.WeekData, ft models.FunnelType, weeks int) string {
	if len(rows) == 0 {
		return "No data available for a summary."
	}
	labels := funnel.StageLabels(ft)
	totals := Totals(rows)
	cvrs := Conversions(totals.Stages)

	var b strings.Builder
	fmt.Fprintf(&b, "Summary — %s funnel, last %d week(s)\n\n", ft, weeks)
	for i, label := range labels {
		fmt.Fprintf(&b, "%s: %d\n", label, totals.Stages[i])
	}
	fmt.Fprintf(&b, "Rejections: %d\n\nConversions:\n", totals.Rejections)
	for i, c := range cvrs {
		fmt.Fprintf(&b, "CVR%d (%s/%s): %s\n", i+1, labels[i+1], labels[i], c)
	}
	return b.String()
}

func formatCountsLine(label string, c models.StageCounts) string {
	return fmt.Sprintf("%-12s %4d %4d %4d %4d %4d %4d\n",
		label, c.Stages[0], c.Stages[1], c.Stages[2], c.Stages[3], c.Stages[4], c.Rejections)
}

func formatCVRLine(stages [models.StageCount]int) string {
	cvrs := Conversions(stages)
	return fmt.Sprintf("%-12s %4s %4s %4s %4s\n",
		"  CVR:", cvrs[0], cvrs[1], cvrs[2], cvrs[3])
}

func abbreviate(labels [models.StageCount]string) string {
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, truncate(l, 4))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
