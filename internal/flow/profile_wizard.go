package flow

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/FunnelCoach/internal/models"
)

// Profile wizard steps, in order. Optional steps accept "skip".
const (
	profileStepRole = iota
	profileStepSynonyms
	profileStepCurrentLocation
	profileStepTargetLocation
	profileStepLevel
	profileStepDeadline
	profileStepSalary
	profileStepIndustries
	profileStepCompetencies
	profileStepConstraints
	profileStepFunnel
	profileStepConfirm
)

// ProfileWizard collects the one-per-user career profile. Nothing is stored
// until the user confirms the final summary.
type ProfileWizard struct {
	userID string
	now    time.Time

	step    int
	profile models.Profile
}

// NewProfileWizard creates a profile wizard. now anchors the derived target
// end date.
func NewProfileWizard(userID string, now time.Time) *ProfileWizard {
	return &ProfileWizard{
		userID: userID,
		now:    now,
		profile: models.Profile{
			UserID:          userID,
			PreferredFunnel: models.FunnelActive,
		},
	}
}

// Profile returns the collected profile. Valid only after a Done result.
func (w *ProfileWizard) Profile() models.Profile {
	return w.profile
}

// Prompt returns the prompt for the current step.
func (w *ProfileWizard) Prompt() string {
	switch w.step {
	case profileStepRole:
		return "What role are you targeting? (e.g. Backend Engineer)"
	case profileStepSynonyms:
		return fmt.Sprintf("Alternative role titles, comma-separated, up to %d. (\"skip\" to omit)", models.MaxRoleSynonyms)
	case profileStepCurrentLocation:
		return "Where are you located now?"
	case profileStepTargetLocation:
		return "Where do you want to work? (city or \"Remote\")"
	case profileStepLevel:
		return "What seniority level? (e.g. Junior, Middle, Senior, Staff)"
	case profileStepDeadline:
		return fmt.Sprintf("In how many weeks do you want an offer? (%d-%d)", models.MinDeadlineWeeks, models.MaxDeadlineWeeks)
	case profileStepSalary:
		return "Salary expectation as min-max currency period, e.g. \"80000-100000 EUR year\". (\"skip\" to omit)"
	case profileStepIndustries:
		return "Preferred industries, comma-separated. (\"skip\" to omit)"
	case profileStepCompetencies:
		return "Key competencies, comma-separated. (\"skip\" to omit)"
	case profileStepConstraints:
		return "Any constraints, e.g. \"no relocation\". (\"skip\" to omit)"
	case profileStepFunnel:
		return "Which funnel will you track: \"active\" (you apply) or \"passive\" (they reach out)?"
	default:
		return w.confirmPrompt()
	}
}

// Handle consumes one input and advances the wizard.
func (w *ProfileWizard) Handle(input string) Result {
	switch normalize(input) {
	case ControlCancel:
		return Result{Reply: "Profile setup cancelled. Nothing was saved.", Cancelled: true}
	case ControlBack:
		return w.back()
	}

	switch w.step {
	case profileStepRole:
		return w.handleRequiredText(input, &w.profile.Role)
	case profileStepSynonyms:
		return w.handleSynonyms(input)
	case profileStepCurrentLocation:
		return w.handleRequiredText(input, &w.profile.CurrentLocation)
	case profileStepTargetLocation:
		return w.handleRequiredText(input, &w.profile.TargetLocation)
	case profileStepLevel:
		return w.handleRequiredText(input, &w.profile.Level)
	case profileStepDeadline:
		return w.handleDeadline(input)
	case profileStepSalary:
		return w.handleSalary(input)
	case profileStepIndustries:
		return w.handleList(input, &w.profile.Industries)
	case profileStepCompetencies:
		return w.handleList(input, &w.profile.Competencies)
	case profileStepConstraints:
		return w.handleConstraints(input)
	case profileStepFunnel:
		return w.handleFunnel(input)
	default:
		return w.handleConfirm(input)
	}
}

// back returns to the previous step and discards its previously entered
// value.
func (w *ProfileWizard) back() Result {
	if w.step == profileStepRole {
		return Result{Reply: "Already at the first step.\n" + w.Prompt()}
	}
	w.step--
	switch w.step {
	case profileStepRole:
		w.profile.Role = ""
	case profileStepSynonyms:
		w.profile.RoleSynonyms = nil
	case profileStepCurrentLocation:
		w.profile.CurrentLocation = ""
	case profileStepTargetLocation:
		w.profile.TargetLocation = ""
	case profileStepLevel:
		w.profile.Level = ""
	case profileStepDeadline:
		w.profile.DeadlineWeeks = 0
		w.profile.TargetEndDate = ""
	case profileStepSalary:
		w.profile.Salary = nil
	case profileStepIndustries:
		w.profile.Industries = nil
	case profileStepCompetencies:
		w.profile.Competencies = nil
	case profileStepConstraints:
		w.profile.Constraints = ""
	case profileStepFunnel:
		w.profile.PreferredFunnel = models.FunnelActive
	}
	return Result{Reply: w.Prompt()}
}

func (w *ProfileWizard) handleRequiredText(input string, dst *string) Result {
	text := strings.TrimSpace(input)
	if text == "" || normalize(input) == ControlSkip {
		return Result{Reply: "This field is required.\n" + w.Prompt()}
	}
	if len(text) > models.MaxProfileFieldLength {
		return Result{Reply: fmt.Sprintf("Keep it under %d characters.\n%s", models.MaxProfileFieldLength, w.Prompt())}
	}
	*dst = text
	w.step++
	return Result{Reply: w.Prompt()}
}

func (w *ProfileWizard) handleSynonyms(input string) Result {
	if normalize(input) == ControlSkip {
		w.step++
		return Result{Reply: w.Prompt()}
	}
	list := splitList(input)
	if len(list) > models.MaxRoleSynonyms {
		return Result{Reply: fmt.Sprintf("At most %d synonyms.\n%s", models.MaxRoleSynonyms, w.Prompt())}
	}
	w.profile.RoleSynonyms = list
	w.step++
	return Result{Reply: w.Prompt()}
}

func (w *ProfileWizard) handleDeadline(input string) Result {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < models.MinDeadlineWeeks || n > models.MaxDeadlineWeeks {
		return Result{Reply: fmt.Sprintf("Enter a number between %d and %d.\n%s",
			models.MinDeadlineWeeks, models.MaxDeadlineWeeks, w.Prompt())}
	}
	w.profile.DeadlineWeeks = n
	w.profile.TargetEndDate = w.now.AddDate(0, 0, 7*n).Format("2006-01-02")
	w.step++
	return Result{Reply: w.Prompt()}
}

func (w *ProfileWizard) handleSalary(input string) Result {
	if normalize(input) == ControlSkip {
		w.step++
		return Result{Reply: w.Prompt()}
	}
	sr, err := parseSalary(input)
	if err != nil {
		return Result{Reply: "Could not parse that. Use min-max currency period, e.g. \"80000-100000 EUR year\".\n" + w.Prompt()}
	}
	w.profile.Salary = sr
	w.step++
	return Result{Reply: w.Prompt()}
}

func (w *ProfileWizard) handleList(input string, dst *[]string) Result {
	if normalize(input) == ControlSkip {
		w.step++
		return Result{Reply: w.Prompt()}
	}
	*dst = splitList(input)
	w.step++
	return Result{Reply: w.Prompt()}
}

func (w *ProfileWizard) handleConstraints(input string) Result {
	if normalize(input) == ControlSkip {
		w.step++
		return Result{Reply: w.Prompt()}
	}
	text := strings.TrimSpace(input)
	if len(text) > models.MaxFreeTextLength {
		return Result{Reply: fmt.Sprintf("Keep it under %d characters.\n%s", models.MaxFreeTextLength, w.Prompt())}
	}
	w.profile.Constraints = text
	w.step++
	return Result{Reply: w.Prompt()}
}

func (w *ProfileWizard) handleFunnel(input string) Result {
	ft := models.FunnelType(normalize(input))
	if !models.IsValidFunnelType(ft) {
		return Result{Reply: "Answer \"active\" or \"passive\".\n" + w.Prompt()}
	}
	w.profile.PreferredFunnel = ft
	w.step++
	return Result{Reply: w.Prompt()}
}

func (w *ProfileWizard) handleConfirm(input string) Result {
	switch {
	case isYes(input):
		return Result{Reply: "Profile saved.", Done: true}
	case isNo(input):
		return Result{Reply: "Profile setup cancelled. Nothing was saved.", Cancelled: true}
	default:
		return Result{Reply: "Please answer yes or no.\n" + w.confirmPrompt()}
	}
}

func (w *ProfileWizard) confirmPrompt() string {
	var b strings.Builder
	b.WriteString("Your profile:\n")
	fmt.Fprintf(&b, "Role: %s\n", w.profile.Role)
	if len(w.profile.RoleSynonyms) > 0 {
		fmt.Fprintf(&b, "Also known as: %s\n", strings.Join(w.profile.RoleSynonyms, ", "))
	}
	fmt.Fprintf(&b, "Location: %s -> %s\n", w.profile.CurrentLocation, w.profile.TargetLocation)
	fmt.Fprintf(&b, "Level: %s\n", w.profile.Level)
	fmt.Fprintf(&b, "Deadline: %d weeks (by %s)\n", w.profile.DeadlineWeeks, w.profile.TargetEndDate)
	if w.profile.Salary != nil {
		fmt.Fprintf(&b, "Salary: %.0f-%.0f %s per %s\n",
			w.profile.Salary.Min, w.profile.Salary.Max, w.profile.Salary.Currency, w.profile.Salary.Period)
	}
	if len(w.profile.Industries) > 0 {
		fmt.Fprintf(&b, "Industries: %s\n", strings.Join(w.profile.Industries, ", "))
	}
	if len(w.profile.Competencies) > 0 {
		fmt.Fprintf(&b, "Competencies: %s\n", strings.Join(w.profile.Competencies, ", "))
	}
	if w.profile.Constraints != "" {
		fmt.Fprintf(&b, "Constraints: %s\n", w.profile.Constraints)
	}
	fmt.Fprintf(&b, "Funnel: %s\n", w.profile.PreferredFunnel)
	b.WriteString("Save? (yes/no)")
	return b.String()
}

// splitList splits a comma-separated answer into trimmed, non-empty items.
func splitList(input string) []string {
	var out []string
	for _, part := range strings.Split(input, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseSalary parses "min-max currency period", with the period optional
// (defaults to "year").
func parseSalary(input string) (*models.SalaryRange, error) {
	fields := strings.Fields(strings.TrimSpace(input))
	if len(fields) < 2 {
		return nil, fmt.Errorf("expected range and currency")
	}
	bounds := strings.SplitN(fields[0], "-", 2)
	if len(bounds) != 2 {
		return nil, fmt.Errorf("expected min-max range")
	}
	min, err := strconv.ParseFloat(strings.TrimSpace(bounds[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum: %w", err)
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(bounds[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid maximum: %w", err)
	}
	if min < 0 || max < min {
		return nil, fmt.Errorf("range out of order")
	}
	sr := &models.SalaryRange{Min: min, Max: max, Currency: strings.ToUpper(fields[1]), Period: "year"}
	if len(fields) >= 3 {
		sr.Period = strings.ToLower(fields[2])
	}
	return sr, nil
}
