package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/FunnelCoach/internal/models"
	"github.com/BTreeMap/FunnelCoach/internal/store"
)

func TestFindProblemsThreshold(t *testing.T) {
	// CVR1 = 10% from 100 applications: problem.
	// CVR2 = 50%: fine. CVR3/CVR4: tiny denominators, never flagged.
	problems := FindProblems([5]int{100, 10, 5, 1, 0}, models.FunnelActive)
	if len(problems) != 1 {
		t.Fatalf("expected 1 problem, got %d: %+v", len(problems), problems)
	}
	p := problems[0]
	if p.Index != 0 || p.FromLabel != "Applications" || p.ToLabel != "Responses" {
		t.Errorf("unexpected problem: %+v", p)
	}
	if p.CVR.Percent != 10 || p.Denominator != 100 {
		t.Errorf("unexpected numbers: %+v", p)
	}
	if len(p.Hypotheses) == 0 {
		t.Error("expected hypotheses attached")
	}
}

func TestFindProblemsSmallDenominatorIgnored(t *testing.T) {
	// 25% would be below nothing; 1/4 = 25%... use 0/4 = 0% but only 4 tries.
	problems := FindProblems([5]int{4, 0, 0, 0, 0}, models.FunnelActive)
	if len(problems) != 0 {
		t.Errorf("denominator below %d must not be flagged, got %+v", MinDenominator, problems)
	}
}

func TestFindProblemsBoundary(t *testing.T) {
	// Exactly 20% is not a problem.
	problems := FindProblems([5]int{10, 2, 0, 0, 0}, models.FunnelActive)
	for _, p := range problems {
		if p.Index == 0 {
			t.Errorf("20%% conversion must not be flagged: %+v", p)
		}
	}
	// 19% is.
	problems = FindProblems([5]int{100, 19, 0, 0, 0}, models.FunnelActive)
	if len(problems) == 0 || problems[0].Index != 0 {
		t.Errorf("19%% conversion must be flagged, got %+v", problems)
	}
}

func TestFindProblemsUndefinedNeverFlagged(t *testing.T) {
	problems := FindProblems([5]int{0, 0, 0, 0, 0}, models.FunnelActive)
	if len(problems) != 0 {
		t.Errorf("undefined conversions must not be flagged, got %+v", problems)
	}
}

type fakeChat struct {
	reply      string
	err        error
	lastPrompt string
}

func (f *fakeChat) GenerateWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.lastPrompt = userPrompt
	return f.reply, f.err
}

func seedAnalyzerData(t *testing.T) store.Store {
	t.Helper()
	st := store.NewInMemoryStore()
	if err := st.EnsureUser("u1", ""); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	d := models.WeekData{
		UserID: "u1", WeekStart: "2026-08-17", Channel: "LinkedIn",
		FunnelType: models.FunnelActive,
		Counts:     models.StageCounts{Stages: [5]int{100, 10, 5, 1, 0}, Rejections: 3},
	}
	if _, _, err := st.AddWeekData(d); err != nil {
		t.Fatalf("AddWeekData failed: %v", err)
	}
	return st
}

func TestAnalyzeWithoutChat(t *testing.T) {
	st := seedAnalyzerData(t)
	a := New(st, nil)

	out, err := a.Analyze(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !strings.Contains(out, "Applications -> Responses") {
		t.Errorf("expected weak conversion named:\n%s", out)
	}
	if strings.Contains(out, "Recommendations:") {
		t.Errorf("no chat client: no recommendations section expected:\n%s", out)
	}
}

func TestAnalyzeWithChat(t *testing.T) {
	st := seedAnalyzerData(t)
	if err := st.SaveProfile(models.Profile{
		UserID: "u1", Role: "Backend Engineer", CurrentLocation: "Berlin",
		TargetLocation: "Remote", Level: "Senior", DeadlineWeeks: 12,
		PreferredFunnel: models.FunnelActive,
	}); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}
	chat := &fakeChat{reply: "1. Tailor your CV per role."}
	a := New(st, chat)

	out, err := a.Analyze(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !strings.Contains(out, "Recommendations:") || !strings.Contains(out, "Tailor your CV") {
		t.Errorf("expected AI recommendations:\n%s", out)
	}
	if !strings.Contains(chat.lastPrompt, "Backend Engineer") {
		t.Errorf("expected profile in prompt context:\n%s", chat.lastPrompt)
	}
	if !strings.Contains(chat.lastPrompt, "Applications=100") {
		t.Errorf("expected totals in prompt context:\n%s", chat.lastPrompt)
	}
}

func TestAnalyzeChatFailureFallsBackToHypotheses(t *testing.T) {
	st := seedAnalyzerData(t)
	a := New(st, &fakeChat{err: errors.New("api down")})

	out, err := a.Analyze(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Analyze must not fail when chat fails: %v", err)
	}
	if !strings.Contains(out, "Weak conversions:") {
		t.Errorf("expected hypotheses report:\n%s", out)
	}
	if strings.Contains(out, "Recommendations:") {
		t.Errorf("failed chat must not add recommendations:\n%s", out)
	}
}

func TestAnalyzeNoData(t *testing.T) {
	st := store.NewInMemoryStore()
	if err := st.EnsureUser("u1", ""); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	a := New(st, nil)
	out, err := a.Analyze(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !strings.Contains(out, "No data") {
		t.Errorf("expected no-data message, got %q", out)
	}
}

func TestAnalyzeHealthyFunnel(t *testing.T) {
	st := store.NewInMemoryStore()
	if err := st.EnsureUser("u1", ""); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	d := models.WeekData{
		UserID: "u1", WeekStart: "2026-08-17", Channel: "LinkedIn",
		FunnelType: models.FunnelActive,
		Counts:     models.StageCounts{Stages: [5]int{10, 5, 3, 2, 1}},
	}
	if _, _, err := st.AddWeekData(d); err != nil {
		t.Fatalf("AddWeekData failed: %v", err)
	}
	a := New(st, nil)
	out, err := a.Analyze(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !strings.Contains(out, "No problem conversions") {
		t.Errorf("expected healthy report, got:\n%s", out)
	}
}
