package flow

import (
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/FunnelCoach/internal/models"
)

func newTestWeeklyWizard(t *testing.T, channels ...string) *WeeklyWizard {
	t.Helper()
	w, err := NewWeeklyWizard("u1", models.FunnelActive, "2026-08-17", channels)
	if err != nil {
		t.Fatalf("NewWeeklyWizard failed: %v", err)
	}
	return w
}

func TestWeeklyWizardRequiresChannels(t *testing.T) {
	if _, err := NewWeeklyWizard("u1", models.FunnelActive, "2026-08-17", nil); err == nil {
		t.Error("expected error for empty channel list")
	}
	if _, err := NewWeeklyWizard("u1", "sideways", "2026-08-17", []string{"LinkedIn"}); err == nil {
		t.Error("expected error for unknown funnel type")
	}
	if _, err := NewWeeklyWizard("u1", models.FunnelActive, "someday", []string{"LinkedIn"}); err != models.ErrInvalidWeekStart {
		t.Errorf("expected ErrInvalidWeekStart, got %v", err)
	}
}

func TestWeeklyWizardHappyPath(t *testing.T) {
	w := newTestWeeklyWizard(t, "LinkedIn", "Referrals")

	steps := []string{"1", "5", "2", "1", "0", "0", "skip"}
	for _, input := range steps {
		res := w.Handle(input)
		if res.Done || res.Cancelled {
			t.Fatalf("unexpected termination on %q: %+v", input, res)
		}
	}

	last := w.Handle("yes")
	if !last.Done {
		t.Fatalf("expected done after confirm, got %+v", last)
	}

	d := w.Data()
	if d.Channel != "LinkedIn" || d.WeekStart != "2026-08-17" || d.FunnelType != models.FunnelActive {
		t.Errorf("unexpected key fields: %+v", d)
	}
	want := models.StageCounts{Stages: [5]int{5, 2, 1, 0, 0}}
	if d.Counts != want {
		t.Errorf("expected counts %+v, got %+v", want, d.Counts)
	}
}

func TestWeeklyWizardChannelByName(t *testing.T) {
	w := newTestWeeklyWizard(t, "LinkedIn", "Referrals")
	res := w.Handle("referrals")
	if res.Done || res.Cancelled {
		t.Fatalf("unexpected termination: %+v", res)
	}
	for _, input := range []string{"1", "0", "0", "0", "0", "0"} {
		w.Handle(input)
	}
	w.Handle("yes")
	if w.Data().Channel != "Referrals" {
		t.Errorf("expected canonical channel name, got %q", w.Data().Channel)
	}
}

func TestWeeklyWizardInvalidInputReprompts(t *testing.T) {
	w := newTestWeeklyWizard(t, "LinkedIn")
	w.Handle("1")

	res := w.Handle("-3")
	if res.Done || res.Cancelled {
		t.Fatalf("negative count must reprompt, got %+v", res)
	}
	if !strings.Contains(res.Reply, "non-negative") {
		t.Errorf("expected reprompt text, got %q", res.Reply)
	}

	res = w.Handle("lots")
	if !strings.Contains(res.Reply, "non-negative") {
		t.Errorf("expected reprompt text, got %q", res.Reply)
	}
}

func TestWeeklyWizardBackDiscardsStep(t *testing.T) {
	w := newTestWeeklyWizard(t, "LinkedIn")
	w.Handle("1")
	w.Handle("5") // Applications

	res := w.Handle("back")
	if res.Done || res.Cancelled {
		t.Fatalf("unexpected termination: %+v", res)
	}
	if !strings.Contains(res.Reply, "Applications") {
		t.Errorf("expected to re-ask applications, got %q", res.Reply)
	}

	// Re-enter and complete.
	for _, input := range []string{"8", "0", "0", "0", "0", "0"} {
		w.Handle(input)
	}
	w.Handle("yes")
	if w.Data().Counts.Stages[0] != 8 {
		t.Errorf("expected re-entered value 8, got %d", w.Data().Counts.Stages[0])
	}
}

func TestWeeklyWizardCancel(t *testing.T) {
	w := newTestWeeklyWizard(t, "LinkedIn")
	w.Handle("1")
	res := w.Handle("cancel")
	if !res.Cancelled {
		t.Fatalf("expected cancelled, got %+v", res)
	}
}

func TestWeeklyWizardDeclineAtConfirm(t *testing.T) {
	w := newTestWeeklyWizard(t, "LinkedIn")
	for _, input := range []string{"1", "1", "0", "0", "0", "0", "0"} {
		w.Handle(input)
	}
	res := w.Handle("no")
	if !res.Cancelled {
		t.Fatalf("expected cancelled on declined confirm, got %+v", res)
	}
}

func TestProfileWizardHappyPath(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	w := NewProfileWizard("u1", now)

	steps := []string{
		"Backend Engineer",
		"Go Developer, Platform Engineer",
		"Berlin",
		"Remote EU",
		"Senior",
		"12",
		"80000-100000 EUR year",
		"fintech, devtools",
		"Go, PostgreSQL",
		"no relocation",
		"passive",
	}
	for _, input := range steps {
		res := w.Handle(input)
		if res.Done || res.Cancelled {
			t.Fatalf("unexpected termination on %q: %+v", input, res)
		}
	}

	last := w.Handle("yes")
	if !last.Done {
		t.Fatalf("expected done after confirm, got %+v", last)
	}

	p := w.Profile()
	if err := p.Validate(); err != nil {
		t.Fatalf("collected profile invalid: %v", err)
	}
	if p.Role != "Backend Engineer" || p.Level != "Senior" || p.DeadlineWeeks != 12 {
		t.Errorf("unexpected fields: %+v", p)
	}
	if p.TargetEndDate != "2026-11-12" {
		t.Errorf("expected derived end date 2026-11-12, got %q", p.TargetEndDate)
	}
	if p.PreferredFunnel != models.FunnelPassive {
		t.Errorf("expected passive funnel, got %q", p.PreferredFunnel)
	}
	if p.Salary == nil || p.Salary.Min != 80000 || p.Salary.Currency != "EUR" || p.Salary.Period != "year" {
		t.Errorf("unexpected salary: %+v", p.Salary)
	}
	if len(p.Industries) != 2 || len(p.Competencies) != 2 {
		t.Errorf("unexpected lists: %v / %v", p.Industries, p.Competencies)
	}
}

func TestProfileWizardSkipsOptionalSteps(t *testing.T) {
	w := NewProfileWizard("u1", time.Now())
	steps := []string{"SRE", "skip", "Paris", "Paris", "Middle", "8", "skip", "skip", "skip", "skip", "active"}
	for _, input := range steps {
		w.Handle(input)
	}
	last := w.Handle("yes")
	if !last.Done {
		t.Fatalf("expected done, got %+v", last)
	}
	p := w.Profile()
	if p.Salary != nil || p.RoleSynonyms != nil || p.Industries != nil || p.Constraints != "" {
		t.Errorf("expected optional fields empty: %+v", p)
	}
}

func TestProfileWizardRequiredFieldCannotBeSkipped(t *testing.T) {
	w := NewProfileWizard("u1", time.Now())
	res := w.Handle("skip")
	if res.Done || res.Cancelled {
		t.Fatalf("unexpected termination: %+v", res)
	}
	if !strings.Contains(res.Reply, "required") {
		t.Errorf("expected required reprompt, got %q", res.Reply)
	}
}

func TestProfileWizardDeadlineValidation(t *testing.T) {
	w := NewProfileWizard("u1", time.Now())
	for _, input := range []string{"SRE", "skip", "Paris", "Paris", "Middle"} {
		w.Handle(input)
	}
	for _, bad := range []string{"0", "53", "soon"} {
		res := w.Handle(bad)
		if !strings.Contains(res.Reply, "between") {
			t.Errorf("expected range reprompt for %q, got %q", bad, res.Reply)
		}
	}
}

func TestProfileWizardCancelSavesNothing(t *testing.T) {
	w := NewProfileWizard("u1", time.Now())
	w.Handle("SRE")
	w.Handle("skip")
	res := w.Handle("cancel")
	if !res.Cancelled {
		t.Fatalf("expected cancelled, got %+v", res)
	}
	// The partially collected profile must not validate as complete.
	p := w.Profile()
	if err := p.Validate(); err == nil {
		t.Error("partial profile should not validate")
	}
}

func TestSessionStoreSingleActiveSession(t *testing.T) {
	s := NewSessionStore()
	if s.Get("u1") != nil {
		t.Fatal("expected no session initially")
	}

	first := s.Begin("u1", KindWeekly, newTestWeeklyWizard(t, "LinkedIn"))
	if got := s.Get("u1"); got != first {
		t.Errorf("expected active session returned")
	}

	second := s.Begin("u1", KindProfile, NewProfileWizard("u1", time.Now()))
	if got := s.Get("u1"); got != second {
		t.Errorf("starting a new wizard must replace the old session")
	}

	s.End("u1")
	if s.Get("u1") != nil {
		t.Error("expected session cleared")
	}
}

func TestParseSalary(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
		min     float64
		period  string
	}{
		{"80000-100000 EUR year", false, 80000, "year"},
		{"5000-7000 usd month", false, 5000, "month"},
		{"5000-7000 USD", false, 5000, "year"},
		{"100000 EUR", true, 0, ""},
		{"9000-1000 EUR", true, 0, ""},
		{"nonsense", true, 0, ""},
	}
	for _, c := range cases {
		sr, err := parseSalary(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseSalary(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseSalary(%q): %v", c.in, err)
			continue
		}
		if sr.Min != c.min || sr.Period != c.period {
			t.Errorf("parseSalary(%q) = %+v", c.in, sr)
		}
	}
}
