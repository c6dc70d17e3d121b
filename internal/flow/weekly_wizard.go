package flow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/FunnelCoach/internal/funnel"
	"github.com/BTreeMap/FunnelCoach/internal/models"
)

// Weekly wizard step layout: one channel-selection step, one numeric step
// per ordered stage slot, one for rejections, then a confirm step.
const (
	weeklyStepChannel = 0
	weeklyStepStage0  = 1 // stages occupy steps 1..5
	weeklyStepReject  = weeklyStepStage0 + models.StageCount
	weeklyStepConfirm = weeklyStepReject + 1
)

// WeeklyWizard collects one week's stage counts for one channel. Submitted
// counts are summed into any existing row at save time, so reporting twice
// in a week is additive.
type WeeklyWizard struct {
	userID     string
	funnelType models.FunnelType
	weekStart  string
	channels   []string
	variant    funnel.Variant

	step    int
	channel string
	counts  models.StageCounts
}

// NewWeeklyWizard creates a weekly data entry wizard. The user must have at
// least one channel.
func NewWeeklyWizard(userID string, ft models.FunnelType, weekStart string, channels []string) (*WeeklyWizard, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels configured: %w", models.ErrEmptyChannelName)
	}
	v, err := funnel.Get(ft)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateWeekStart(weekStart); err != nil {
		return nil, err
	}
	return &WeeklyWizard{
		userID:     userID,
		funnelType: ft,
		weekStart:  weekStart,
		channels:   channels,
		variant:    v,
	}, nil
}

// Data returns the collected week row. Valid only after a Done result.
func (w *WeeklyWizard) Data() models.WeekData {
	return models.WeekData{
		UserID:     w.userID,
		WeekStart:  w.weekStart,
		Channel:    w.channel,
		FunnelType: w.funnelType,
		Counts:     w.counts,
	}
}

// Prompt returns the prompt for the current step.
func (w *WeeklyWizard) Prompt() string {
	switch {
	case w.step == weeklyStepChannel:
		var b strings.Builder
		fmt.Fprintf(&b, "Reporting week %s. Which channel?\n", w.weekStart)
		for i, c := range w.channels {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c)
		}
		b.WriteString("Reply with a number or a channel name.")
		return b.String()
	case w.step >= weeklyStepStage0 && w.step < weeklyStepReject:
		label := w.variant.Stages[w.step-weeklyStepStage0]
		return fmt.Sprintf("%s this week? (number, or \"skip\" for 0)", label)
	case w.step == weeklyStepReject:
		return fmt.Sprintf("%s this week? (number, or \"skip\" for 0)", w.variant.RejectionLabel)
	default:
		return w.confirmPrompt()
	}
}

// Handle consumes one input and advances the wizard.
func (w *WeeklyWizard) Handle(input string) Result {
	switch normalize(input) {
	case ControlCancel:
		return Result{Reply: "Weekly report cancelled. Nothing was saved.", Cancelled: true}
	case ControlBack:
		return w.back()
	}

	switch {
	case w.step == weeklyStepChannel:
		return w.handleChannel(input)
	case w.step >= weeklyStepStage0 && w.step < weeklyStepReject:
		return w.handleCount(input, w.step-weeklyStepStage0)
	case w.step == weeklyStepReject:
		return w.handleCount(input, funnel.RejectionIndex)
	default:
		return w.handleConfirm(input)
	}
}

// back returns to the previous step and discards its previously entered
// value so it is asked again.
func (w *WeeklyWizard) back() Result {
	if w.step == weeklyStepChannel {
		return Result{Reply: "Already at the first step.\n" + w.Prompt()}
	}
	w.step--
	switch {
	case w.step == weeklyStepChannel:
		w.channel = ""
	case w.step >= weeklyStepStage0 && w.step < weeklyStepReject:
		w.counts.Stages[w.step-weeklyStepStage0] = 0
	case w.step == weeklyStepReject:
		w.counts.Rejections = 0
	}
	return Result{Reply: w.Prompt()}
}

func (w *WeeklyWizard) handleChannel(input string) Result {
	trimmed := strings.TrimSpace(input)
	if n, err := strconv.Atoi(trimmed); err == nil {
		if n < 1 || n > len(w.channels) {
			return Result{Reply: fmt.Sprintf("Pick a number between 1 and %d.\n%s", len(w.channels), w.Prompt())}
		}
		w.channel = w.channels[n-1]
	} else {
		for _, c := range w.channels {
			if strings.EqualFold(c, trimmed) {
				w.channel = c
				break
			}
		}
		if w.channel == "" {
			return Result{Reply: "Unknown channel.\n" + w.Prompt()}
		}
	}
	w.step++
	return Result{Reply: w.Prompt()}
}

func (w *WeeklyWizard) handleCount(input string, slot int) Result {
	var value int
	if normalize(input) == ControlSkip {
		value = 0
	} else {
		n, err := strconv.Atoi(strings.TrimSpace(input))
		if err != nil || n < 0 {
			return Result{Reply: "Enter a non-negative whole number.\n" + w.Prompt()}
		}
		value = n
	}
	if slot == funnel.RejectionIndex {
		w.counts.Rejections = value
	} else {
		w.counts.Stages[slot] = value
	}
	w.step++
	return Result{Reply: w.Prompt()}
}

func (w *WeeklyWizard) handleConfirm(input string) Result {
	switch {
	case isYes(input):
		return Result{Reply: "Saved.", Done: true}
	case isNo(input):
		return Result{Reply: "Weekly report cancelled. Nothing was saved.", Cancelled: true}
	default:
		return Result{Reply: "Please answer yes or no.\n" + w.confirmPrompt()}
	}
}

func (w *WeeklyWizard) confirmPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Week %s, channel %s:\n", w.weekStart, w.channel)
	for i, label := range w.variant.Stages {
		fmt.Fprintf(&b, "%s: %d\n", label, w.counts.Stages[i])
	}
	fmt.Fprintf(&b, "%s: %d\n", w.variant.RejectionLabel, w.counts.Rejections)
	b.WriteString("Save? (yes/no)")
	return b.String()
}
