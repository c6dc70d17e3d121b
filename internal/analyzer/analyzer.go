// Package analyzer finds weak funnel conversions and proposes improvements.
//
// A conversion is a problem when its rate is below a threshold and its
// denominator is large enough to mean something. Each problem maps to a
// fixed set of hypotheses; when a GenAI client is configured, the analyzer
// additionally asks it for recommendations tailored to the user's profile,
// history and reflections.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/FunnelCoach/internal/funnel"
	"github.com/BTreeMap/FunnelCoach/internal/metrics"
	"github.com/BTreeMap/FunnelCoach/internal/models"
)

// Problem detection thresholds.
const (
	// ProblemThresholdPercent flags conversions below this rate.
	ProblemThresholdPercent = 20
	// MinDenominator is the smallest sample size worth flagging.
	MinDenominator = 5
)

// reflectionContextLimit caps how many reflection records feed the
// recommendation prompt.
const reflectionContextLimit = 20

const systemPrompt = "You are a job-search coach. The user tracks a weekly " +
	"application funnel. Given their profile, funnel numbers and self-reflections, " +
	"give 3-5 specific, actionable recommendations for the weak conversions listed. " +
	"Be concrete and concise; no generic advice."

// Problem is one weak conversion with its improvement hypotheses.
type Problem struct {
	Index       int // conversion index, 0-based
	FromLabel   string
	ToLabel     string
	CVR         metrics.CVR
	Denominator int
	Hypotheses  []string
}

// hypotheses per conversion index: CVR1 (top of funnel -> second stage)
// through CVR4 (onsites -> offers).
var hypotheses = [metrics.ConversionCount][]string{
	{
		"CV or profile does not match the roles you apply to",
		"Applications are too generic; tailor the top third of the CV per role",
		"Wrong channels; shift volume toward referrals and direct outreach",
	},
	{
		"Screening answers undersell measurable impact",
		"Salary expectations or location answers filter you out early",
		"Slow replies; respond to recruiters within one business day",
	},
	{
		"Technical depth gaps on the most common interview topics",
		"Stories lack structure; prepare 5-6 STAR stories tied to the role",
		"Mismatch between claimed level and interview performance",
	},
	{
		"Final-round positioning is weak; clarify your unique strengths",
		"References or take-home work leave doubts",
		"Negotiation signals scare offers away before they are made",
	},
}

// FindProblems scans the conversions of one aggregated count row.
func FindProblems(stages [models.StageCount]int, ft models.FunnelType) []Problem {
	labels := funnel.StageLabels(ft)
	cvrs := metrics.Conversions(stages)

	var problems []Problem
	for i, c := range cvrs {
		if !c.Defined || stages[i] < MinDenominator || c.Percent >= ProblemThresholdPercent {
			continue
		}
		problems = append(problems, Problem{
			Index:       i,
			FromLabel:   labels[i],
			ToLabel:     labels[i+1],
			CVR:         c,
			Denominator: stages[i],
			Hypotheses:  hypotheses[i],
		})
	}
	return problems
}

// chatService is the GenAI surface the analyzer needs.
type chatService interface {
	GenerateWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// historyStore is the slice of the store the analyzer reads.
type historyStore interface {
	GetUser(userID string) (*models.User, error)
	GetUserHistory(userID string) ([]models.WeekData, error)
	GetProfile(userID string) (*models.Profile, error)
	GetReflectionHistory(userID string, limit int) ([]models.ReflectionRecord, error)
}

// Analyzer produces the analysis report for one user.
type Analyzer struct {
	store historyStore
	chat  chatService // nil disables AI recommendations
}

// New creates an analyzer. chat may be nil; hypotheses are then reported
// without AI recommendations.
func New(store historyStore, chat chatService) *Analyzer {
	return &Analyzer{store: store, chat: chat}
}

// Analyze aggregates the user's history under their active funnel, flags
// problem conversions and renders the report text.
func (a *Analyzer) Analyze(ctx context.Context, userID string) (string, error) {
	user, err := a.store.GetUser(userID)
	if err != nil {
		return "", fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("unknown user %s", userID)
	}

	history, err := a.store.GetUserHistory(userID)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}
	var rows []models.WeekData
	for _, r := range history {
		if r.FunnelType == user.ActiveFunnel {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return "No data to analyze yet. Log a weekly report first.", nil
	}

	totals := metrics.Totals(rows)
	problems := FindProblems(totals.Stages, user.ActiveFunnel)
	if len(problems) == 0 {
		return "No problem conversions found. Every measured conversion is at or above " +
			fmt.Sprintf("%d%% or still has too little data.", ProblemThresholdPercent), nil
	}

	var b strings.Builder
	b.WriteString("Weak conversions:\n")
	for _, p := range problems {
		fmt.Fprintf(&b, "\n%s -> %s: %s (from %d %s)\n", p.FromLabel, p.ToLabel, p.CVR, p.Denominator, strings.ToLower(p.FromLabel))
		for _, h := range p.Hypotheses {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}

	if a.chat != nil {
		recs, err := a.recommend(ctx, userID, user.ActiveFunnel, totals, problems)
		if err != nil {
			// Hypotheses still stand on their own.
			slog.Error("AI recommendations failed", "error", err, "userID", userID)
		} else if recs != "" {
			b.WriteString("\nRecommendations:\n")
			b.WriteString(recs)
		}
	}
	return b.String(), nil
}

// recommend builds the context prompt and asks the chat model.
func (a *Analyzer) recommend(ctx context.Context, userID string, ft models.FunnelType, totals models.StageCounts, problems []Problem) (string, error) {
	var b strings.Builder

	profile, err := a.store.GetProfile(userID)
	if err != nil {
		return "", fmt.Errorf("failed to load profile: %w", err)
	}
	if profile != nil {
		fmt.Fprintf(&b, "Profile: %s (%s), %s -> %s, deadline %d weeks.\n",
			profile.Role, profile.Level, profile.CurrentLocation, profile.TargetLocation, profile.DeadlineWeeks)
		if len(profile.Competencies) > 0 {
			fmt.Fprintf(&b, "Competencies: %s.\n", strings.Join(profile.Competencies, ", "))
		}
		if profile.Constraints != "" {
			fmt.Fprintf(&b, "Constraints: %s.\n", profile.Constraints)
		}
	}

	labels := funnel.StageLabels(ft)
	b.WriteString("Totals: ")
	for i, l := range labels {
		fmt.Fprintf(&b, "%s=%d ", l, totals.Stages[i])
	}
	fmt.Fprintf(&b, "Rejections=%d.\n", totals.Rejections)

	b.WriteString("Weak conversions: ")
	for _, p := range problems {
		fmt.Fprintf(&b, "%s->%s %s; ", p.FromLabel, p.ToLabel, p.CVR)
	}
	b.WriteString("\n")

	reflections, err := a.store.GetReflectionHistory(userID, reflectionContextLimit)
	if err != nil {
		return "", fmt.Errorf("failed to load reflections: %w", err)
	}
	for _, r := range reflections {
		s := r.Section
		fmt.Fprintf(&b, "Reflection [%s]: ", s.Stage)
		if s.Strengths != "" {
			fmt.Fprintf(&b, "worked: %s. ", s.Strengths)
		}
		if s.Weaknesses != "" {
			fmt.Fprintf(&b, "to improve: %s. ", s.Weaknesses)
		}
		if len(s.RejectReasons) > 0 {
			fmt.Fprintf(&b, "reject reasons: %s. ", strings.Join(s.RejectReasons, ", "))
		}
		b.WriteString("\n")
	}

	return a.chat.GenerateWithContext(ctx, systemPrompt, b.String())
}
