package flow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/BTreeMap/FunnelCoach/internal/funnel"
	"github.com/BTreeMap/FunnelCoach/internal/models"
)

// TriggerSection is one qualifying stage increase found in a submission.
type TriggerSection struct {
	Index int    // stage slot, or funnel.RejectionIndex
	Key   string // stable section key, e.g. "response", "rejection"
	Label string // display label under the submission's funnel variant
	Delta int    // how many new events this submission added
}

// CheckTrigger compares the counts before and after a submission and
// returns one section per qualifying stage that increased. The
// top-of-funnel slot never qualifies; decreases never trigger.
func CheckTrigger(old, updated models.StageCounts, ft models.FunnelType) []TriggerSection {
	var sections []TriggerSection
	for _, idx := range funnel.QualifyingIndexes() {
		var delta int
		if idx == funnel.RejectionIndex {
			delta = updated.Rejections - old.Rejections
		} else {
			delta = updated.Stages[idx] - old.Stages[idx]
		}
		if delta >= 1 {
			sections = append(sections, TriggerSection{
				Index: idx,
				Key:   funnel.SectionKey(ft, idx),
				Label: funnel.StageLabel(ft, idx),
				Delta: delta,
			})
		}
	}
	return sections
}

// RejectReasonOptions are the selectable reasons in a rejection section.
// The last option requires a free-text follow-up.
var RejectReasonOptions = []string{
	"Not enough experience",
	"Skills mismatch",
	"Salary expectations",
	"Location or visa",
	"Culture fit",
	"Position closed",
	"Other",
}

// Sub-steps within one reflection section. Rejection sections replace the
// rating/strengths/weaknesses flow with a rejection-specific one.
const (
	refSubRating = iota
	refSubStrengths
	refSubWeaknesses
	refSubMood
)

const (
	rejSubAfterStage = iota
	rejSubReasons
	rejSubOther
	rejSubMood
)

// ReflectionWizard walks the user through one section per qualifying stage
// increase. The consent question comes first; declining discards the whole
// opportunity. All sections are saved together at the end.
type ReflectionWizard struct {
	userID     string
	funnelType models.FunnelType
	channel    string
	weekStart  string
	sections   []TriggerSection

	consented bool
	cur       int
	sub       int
	answers   []models.ReflectionSection
	current   models.ReflectionSection
}

// NewReflectionWizard creates a reflection wizard for the given qualifying
// sections. At least one section is required.
func NewReflectionWizard(userID string, ft models.FunnelType, channel, weekStart string, sections []TriggerSection) (*ReflectionWizard, error) {
	if len(sections) == 0 {
		return nil, fmt.Errorf("no qualifying sections")
	}
	w := &ReflectionWizard{
		userID:     userID,
		funnelType: ft,
		channel:    channel,
		weekStart:  weekStart,
		sections:   sections,
	}
	w.resetSection()
	return w, nil
}

// Records returns the persisted form of all answered sections, one record
// per section. Valid only after a Done result.
func (w *ReflectionWizard) Records() []models.ReflectionRecord {
	records := make([]models.ReflectionRecord, 0, len(w.answers))
	for _, section := range w.answers {
		records = append(records, models.ReflectionRecord{
			ID:         uuid.NewString(),
			UserID:     w.userID,
			FunnelType: w.funnelType,
			Channel:    w.channel,
			WeekStart:  w.weekStart,
			Section:    section,
		})
	}
	return records
}

func (w *ReflectionWizard) resetSection() {
	s := w.sections[w.cur]
	w.current = models.ReflectionSection{Stage: s.Key, EventsCount: s.Delta}
	w.sub = 0
}

func (w *ReflectionWizard) isRejection() bool {
	return w.sections[w.cur].Index == funnel.RejectionIndex
}

// Prompt returns the prompt for the current step.
func (w *ReflectionWizard) Prompt() string {
	if !w.consented {
		return w.consentPrompt()
	}
	s := w.sections[w.cur]
	header := fmt.Sprintf("[%s, +%d] ", s.Label, s.Delta)
	if w.isRejection() {
		switch w.sub {
		case rejSubAfterStage:
			return header + w.afterStagePrompt()
		case rejSubReasons:
			return header + w.reasonsPrompt()
		case rejSubOther:
			return header + "Describe the other reason briefly."
		default:
			return header + "How is your mood after this? (1-5)"
		}
	}
	switch w.sub {
	case refSubRating:
		return header + "How did it go overall? (1-5)"
	case refSubStrengths:
		return header + "What worked well? (text, or \"skip\")"
	case refSubWeaknesses:
		return header + "What could be better? (text, or \"skip\")"
	default:
		return header + "How is your mood after this? (1-5)"
	}
}

func (w *ReflectionWizard) consentPrompt() string {
	labels := make([]string, 0, len(w.sections))
	for _, s := range w.sections {
		labels = append(labels, fmt.Sprintf("%s +%d", s.Label, s.Delta))
	}
	return fmt.Sprintf("Progress this week: %s. Take a minute to reflect on it? (yes/no)",
		strings.Join(labels, ", "))
}

func (w *ReflectionWizard) afterStagePrompt() string {
	labels := funnel.StageLabels(w.funnelType)
	var b strings.Builder
	b.WriteString("After which stage did the rejection come?\n")
	for i, l := range labels {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l)
	}
	b.WriteString("Reply with a number.")
	return b.String()
}

func (w *ReflectionWizard) reasonsPrompt() string {
	var b strings.Builder
	b.WriteString("What were the stated reasons? Pick numbers, comma-separated.\n")
	for i, r := range RejectReasonOptions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}
	return b.String()
}

// Handle consumes one input and advances the wizard.
func (w *ReflectionWizard) Handle(input string) Result {
	if normalize(input) == ControlCancel {
		return Result{Reply: "Reflection skipped. Your counts are already saved.", Cancelled: true}
	}
	if !w.consented {
		return w.handleConsent(input)
	}
	if normalize(input) == ControlBack {
		return w.back()
	}
	if w.isRejection() {
		return w.handleRejectionStep(input)
	}
	return w.handleRatingStep(input)
}

func (w *ReflectionWizard) handleConsent(input string) Result {
	switch {
	case isYes(input):
		w.consented = true
		return Result{Reply: w.Prompt()}
	case isNo(input):
		return Result{Reply: "No problem. Your counts are already saved.", Cancelled: true}
	default:
		return Result{Reply: "Please answer yes or no.\n" + w.consentPrompt()}
	}
}

// back steps to the previous question within the current section and
// discards its answer.
func (w *ReflectionWizard) back() Result {
	if w.sub == 0 {
		return Result{Reply: "Already at the first question of this section.\n" + w.Prompt()}
	}
	w.sub--
	if w.isRejection() {
		// Skip the free-text follow-up when "Other" was not selected.
		if w.sub == rejSubOther && !hasOther(w.current.RejectReasons) {
			w.sub--
		}
		switch w.sub {
		case rejSubAfterStage:
			w.current.RejectAfterStage = ""
		case rejSubReasons:
			w.current.RejectReasons = nil
			w.current.RejectReasonOther = ""
		case rejSubOther:
			w.current.RejectReasonOther = ""
		}
	} else {
		switch w.sub {
		case refSubRating:
			w.current.RatingOverall = 0
		case refSubStrengths:
			w.current.Strengths = ""
		case refSubWeaknesses:
			w.current.Weaknesses = ""
		}
	}
	return Result{Reply: w.Prompt()}
}

func (w *ReflectionWizard) handleRatingStep(input string) Result {
	switch w.sub {
	case refSubRating:
		n, err := parseRating(input)
		if err != nil {
			return Result{Reply: "Enter a rating from 1 to 5.\n" + w.Prompt()}
		}
		w.current.RatingOverall = n
	case refSubStrengths:
		text, ok := optionalText(input)
		if !ok {
			return Result{Reply: fmt.Sprintf("Keep it under %d characters.\n%s", models.MaxFreeTextLength, w.Prompt())}
		}
		w.current.Strengths = text
	case refSubWeaknesses:
		text, ok := optionalText(input)
		if !ok {
			return Result{Reply: fmt.Sprintf("Keep it under %d characters.\n%s", models.MaxFreeTextLength, w.Prompt())}
		}
		w.current.Weaknesses = text
	default:
		n, err := parseRating(input)
		if err != nil {
			return Result{Reply: "Enter a rating from 1 to 5.\n" + w.Prompt()}
		}
		w.current.RatingMood = n
		return w.finishSection()
	}
	w.sub++
	return Result{Reply: w.Prompt()}
}

func (w *ReflectionWizard) handleRejectionStep(input string) Result {
	switch w.sub {
	case rejSubAfterStage:
		labels := funnel.StageLabels(w.funnelType)
		n, err := strconv.Atoi(strings.TrimSpace(input))
		if err != nil || n < 1 || n > len(labels) {
			return Result{Reply: fmt.Sprintf("Pick a number between 1 and %d.\n%s", len(labels), w.Prompt())}
		}
		w.current.RejectAfterStage = funnel.SectionKeyForSlot(w.funnelType, n-1)
	case rejSubReasons:
		reasons, err := parseReasonSelection(input)
		if err != nil {
			return Result{Reply: "Pick numbers from the list, comma-separated.\n" + w.Prompt()}
		}
		w.current.RejectReasons = reasons
		if !hasOther(reasons) {
			w.sub = rejSubMood
			return Result{Reply: w.Prompt()}
		}
	case rejSubOther:
		text := strings.TrimSpace(input)
		if text == "" || len(text) > models.MaxFreeTextLength {
			return Result{Reply: fmt.Sprintf("A short description is required, under %d characters.\n%s", models.MaxFreeTextLength, w.Prompt())}
		}
		w.current.RejectReasonOther = text
	default:
		n, err := parseRating(input)
		if err != nil {
			return Result{Reply: "Enter a rating from 1 to 5.\n" + w.Prompt()}
		}
		w.current.RatingMood = n
		return w.finishSection()
	}
	w.sub++
	return Result{Reply: w.Prompt()}
}

func (w *ReflectionWizard) finishSection() Result {
	w.answers = append(w.answers, w.current)
	if w.cur+1 >= len(w.sections) {
		return Result{Reply: "Reflection saved. Thanks for the detail.", Done: true}
	}
	w.cur++
	w.resetSection()
	return Result{Reply: w.Prompt()}
}

func parseRating(input string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, models.ErrInvalidRating
	}
	if err := models.ValidateRating(n); err != nil {
		return 0, err
	}
	return n, nil
}

// optionalText returns the trimmed answer, empty when skipped, and reports
// whether it fits the free-text limit.
func optionalText(input string) (string, bool) {
	if normalize(input) == ControlSkip {
		return "", true
	}
	text := strings.TrimSpace(input)
	if len(text) > models.MaxFreeTextLength {
		return "", false
	}
	return text, true
}

// parseReasonSelection parses a comma-separated list of option numbers into
// the canonical reason strings, deduplicated.
func parseReasonSelection(input string) ([]string, error) {
	parts := strings.Split(input, ",")
	seen := make(map[int]bool)
	var reasons []string
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > len(RejectReasonOptions) {
			return nil, fmt.Errorf("invalid option %q", p)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		reasons = append(reasons, RejectReasonOptions[n-1])
	}
	if len(reasons) == 0 {
		return nil, fmt.Errorf("no options selected")
	}
	return reasons, nil
}

func hasOther(reasons []string) bool {
	for _, r := range reasons {
		if r == RejectReasonOptions[len(RejectReasonOptions)-1] {
			return true
		}
	}
	return false
}
