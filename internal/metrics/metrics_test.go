package metrics

import (
	"strings"
	"testing"

	"github.com/BTreeMap/FunnelCoach/internal/models"
)

func TestConversionsReferenceFunnel(t *testing.T) {
	cvrs := Conversions([5]int{100, 40, 10, 2, 1})
	want := []int{40, 25, 20, 50}
	for i, w := range want {
		if !cvrs[i].Defined {
			t.Errorf("CVR%d: expected defined", i+1)
			continue
		}
		if cvrs[i].Percent != w {
			t.Errorf("CVR%d: expected %d%%, got %d%%", i+1, w, cvrs[i].Percent)
		}
	}
}

func TestConversionsZeroDenominatorUndefined(t *testing.T) {
	cvrs := Conversions([5]int{0, 0, 0, 0, 0})
	for i, c := range cvrs {
		if c.Defined {
			t.Errorf("CVR%d: expected undefined for zero denominator", i+1)
		}
		if c.String() != UndefinedMark {
			t.Errorf("CVR%d: expected %q, got %q", i+1, UndefinedMark, c.String())
		}
	}

	// A zero denominator mid-funnel leaves only that pair undefined.
	cvrs = Conversions([5]int{10, 0, 3, 0, 0})
	if !cvrs[0].Defined || cvrs[0].Percent != 0 {
		t.Errorf("CVR1: expected defined 0%%, got %+v", cvrs[0])
	}
	if cvrs[1].Defined {
		t.Errorf("CVR2: expected undefined, got %+v", cvrs[1])
	}
	if !cvrs[2].Defined {
		t.Errorf("CVR3: expected defined, got %+v", cvrs[2])
	}
}

func TestConversionsUndefinedIsNotZeroPercent(t *testing.T) {
	undefined := CVR{}
	zero := CVR{Percent: 0, Defined: true}
	if undefined.String() == zero.String() {
		t.Errorf("undefined (%q) must render differently from 0%% (%q)",
			undefined.String(), zero.String())
	}
}

func TestRoundingBoundaries(t *testing.T) {
	cases := []struct {
		num, den int
		want     int
	}{
		{1, 8, 13},   // 12.5% rounds up
		{1, 200, 1},  // 0.5% rounds up
		{1, 3, 33},   // 33.33% rounds down
		{2, 3, 67},   // 66.66% rounds up
		{1, 1, 100},  // exact
		{0, 10, 0},   // zero numerator stays 0%
		{3, 2, 150},  // above 100% is reported as-is
	}
	for _, c := range cases {
		cvrs := Conversions([5]int{c.den, c.num, 0, 0, 0})
		if !cvrs[0].Defined {
			t.Errorf("%d/%d: expected defined", c.num, c.den)
			continue
		}
		if cvrs[0].Percent != c.want {
			t.Errorf("%d/%d: expected %d%%, got %d%%", c.num, c.den, c.want, cvrs[0].Percent)
		}
	}
}

func TestTotals(t *testing.T) {
	rows := []models.WeekData{
		{Counts: models.StageCounts{Stages: [5]int{5, 2, 1, 0, 0}, Rejections: 1}},
		{Counts: models.StageCounts{Stages: [5]int{3, 1, 0, 0, 0}, Rejections: 2}},
	}
	got := Totals(rows)
	want := models.StageCounts{Stages: [5]int{8, 3, 1, 0, 0}, Rejections: 3}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestFormatHistoryEmpty(t *testing.T) {
	out := FormatHistory(nil, models.FunnelActive)
	if !strings.Contains(out, "No data") {
		t.Errorf("unexpected empty-history text: %q", out)
	}
}

func TestFormatHistoryGroupsAndTotals(t *testing.T) {
	rows := []models.WeekData{
		{WeekStart: "2026-08-10", Channel: "LinkedIn",
			Counts: models.StageCounts{Stages: [5]int{10, 4, 0, 0, 0}}},
		{WeekStart: "2026-08-17", Channel: "LinkedIn",
			Counts: models.StageCounts{Stages: [5]int{5, 2, 1, 0, 0}}},
		{WeekStart: "2026-08-17", Channel: "Referrals",
			Counts: models.StageCounts{Stages: [5]int{3, 1, 0, 0, 0}}},
	}
	out := FormatHistory(rows, models.FunnelActive)

	// Newest week first.
	first := strings.Index(out, "2026-08-17")
	second := strings.Index(out, "2026-08-10")
	if first == -1 || second == -1 || first > second {
		t.Errorf("expected newest week first:\n%s", out)
	}

	// The multi-channel week carries a TOTAL line; the single-channel week
	// appears without one after it.
	if !strings.Contains(out, "TOTAL") {
		t.Errorf("expected TOTAL row for multi-channel week:\n%s", out)
	}
	if strings.Count(out, "TOTAL") != 1 {
		t.Errorf("expected exactly one TOTAL row:\n%s", out)
	}
}

func TestFormatSummary(t *testing.T) {
	rows := []models.WeekData{
		{Counts: models.StageCounts{Stages: [5]int{100, 40, 10, 2, 1}, Rejections: 7}},
	}
	out := FormatSummary(rows, models.FunnelActive, 4)
	for _, want := range []string{"Applications: 100", "Offers: 1", "Rejections: 7", "40%", "50%"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in summary:\n%s", want, out)
		}
	}
}

func TestFormatSummaryEmpty(t *testing.T) {
	out := FormatSummary(nil, models.FunnelActive, 4)
	if !strings.Contains(out, "No data") {
		t.Errorf("unexpected empty-summary text: %q", out)
	}
}
