// Package coach routes inbound chat messages: an active wizard session
// consumes them first, otherwise they are matched against command keywords.
// The coach owns all save side effects; wizards themselves never touch
// storage.
package coach

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/FunnelCoach/internal/analyzer"
	"github.com/BTreeMap/FunnelCoach/internal/export"
	"github.com/BTreeMap/FunnelCoach/internal/flow"
	"github.com/BTreeMap/FunnelCoach/internal/funnel"
	"github.com/BTreeMap/FunnelCoach/internal/messaging"
	"github.com/BTreeMap/FunnelCoach/internal/metrics"
	"github.com/BTreeMap/FunnelCoach/internal/models"
	"github.com/BTreeMap/FunnelCoach/internal/store"
)

// defaultSummaryWeeks is how many recent weeks a bare "summary" covers.
const defaultSummaryWeeks = 4

const saveRetryMessage = "Could not save right now. Please try again."

const menuText = `Commands:
report - log this week's funnel counts
edit <channel> <stage|rejections> <value> - correct a field for the current week
history - per-week history with conversions
summary [weeks] - totals over recent weeks
channels - list channels
add channel <name> / remove channel <name>
profile - set up your profile (profile delete removes it)
funnel <active|passive> - switch funnel variant
remind <off|daily|weekly> [HH:MM] [timezone]
export - current funnel history as CSV text
analyze - find weak conversions
cancel / back / skip work inside any flow`

// Coach is the conversation router.
type Coach struct {
	store    store.Store
	msg      messaging.Service
	sessions *flow.SessionStore
	analyzer *analyzer.Analyzer // nil disables the analyze command
	now      func() time.Time
}

// Option configures a Coach.
type Option func(*Coach)

// WithNowFunc overrides the clock, used in tests.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Coach) { c.now = now }
}

// New creates a coach. an may be nil.
func New(st store.Store, msg messaging.Service, an *analyzer.Analyzer, opts ...Option) *Coach {
	c := &Coach{
		store:    st,
		msg:      msg,
		sessions: flow.NewSessionStore(),
		analyzer: an,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes inbound responses until the transport closes or the context
// is cancelled.
func (c *Coach) Run(ctx context.Context) {
	slog.Debug("Coach loop started")
	for {
		select {
		case resp, ok := <-c.msg.Responses():
			if !ok {
				slog.Debug("Coach loop stopped: responses channel closed")
				return
			}
			c.HandleResponse(ctx, resp)
		case <-ctx.Done():
			slog.Debug("Coach loop stopped: context cancelled")
			return
		}
	}
}

// HandleResponse processes one inbound message end to end.
func (c *Coach) HandleResponse(ctx context.Context, resp models.Response) {
	userID := resp.From
	if err := c.store.EnsureUser(userID, ""); err != nil {
		slog.Error("Failed to ensure user", "error", err, "userID", userID)
		c.send(ctx, userID, saveRetryMessage)
		return
	}

	reply := c.route(ctx, userID, resp.Body)
	if reply != "" {
		c.send(ctx, userID, reply)
	}
}

func (c *Coach) send(ctx context.Context, to, message string) {
	if err := c.msg.SendMessage(ctx, to, message); err != nil {
		slog.Error("Failed to send reply", "error", err, "to", to)
	}
}

// route dispatches to the active session, or to a command.
func (c *Coach) route(ctx context.Context, userID, body string) string {
	if sess := c.sessions.Get(userID); sess != nil {
		return c.advanceSession(ctx, userID, sess, body)
	}
	return c.handleCommand(ctx, userID, body)
}

// advanceSession feeds one input into the active wizard and performs the
// terminal save when the wizard completes.
func (c *Coach) advanceSession(ctx context.Context, userID string, sess *flow.Session, body string) string {
	res := sess.Wizard.Handle(body)
	if res.Cancelled {
		c.sessions.End(userID)
		return res.Reply
	}
	if !res.Done {
		return res.Reply
	}

	switch sess.Kind {
	case flow.KindWeekly:
		return c.saveWeekly(ctx, userID, sess.Wizard.(*flow.WeeklyWizard), res.Reply)
	case flow.KindProfile:
		return c.saveProfile(userID, sess.Wizard.(*flow.ProfileWizard), res.Reply)
	case flow.KindReflection:
		return c.saveReflection(userID, sess.Wizard.(*flow.ReflectionWizard), res.Reply)
	default:
		c.sessions.End(userID)
		return res.Reply
	}
}

// saveWeekly commits the collected week row and, when qualifying stages
// increased, immediately offers a reflection form.
func (c *Coach) saveWeekly(ctx context.Context, userID string, w *flow.WeeklyWizard, doneReply string) string {
	d := w.Data()
	old, updated, err := c.store.AddWeekData(d)
	if err != nil {
		// Keep the session so the user can confirm again.
		slog.Error("Failed to save week data", "error", err, "userID", userID)
		return saveRetryMessage
	}
	c.sessions.End(userID)

	sections := flow.CheckTrigger(old, updated, d.FunnelType)
	if len(sections) == 0 {
		return doneReply
	}
	rw, err := flow.NewReflectionWizard(userID, d.FunnelType, d.Channel, d.WeekStart, sections)
	if err != nil {
		slog.Error("Failed to start reflection wizard", "error", err, "userID", userID)
		return doneReply
	}
	c.sessions.Begin(userID, flow.KindReflection, rw)
	return doneReply + "\n\n" + rw.Prompt()
}

func (c *Coach) saveProfile(userID string, w *flow.ProfileWizard, doneReply string) string {
	if err := c.store.SaveProfile(w.Profile()); err != nil {
		slog.Error("Failed to save profile", "error", err, "userID", userID)
		return saveRetryMessage
	}
	c.sessions.End(userID)
	return doneReply
}

func (c *Coach) saveReflection(userID string, w *flow.ReflectionWizard, doneReply string) string {
	c.sessions.End(userID)
	if err := c.store.SaveReflections(w.Records()); err != nil {
		slog.Error("Failed to save reflections", "error", err, "userID", userID)
		return "Could not save the reflection. Your counts are safe; the reflection was lost."
	}
	return doneReply
}

// handleCommand matches a message against the command keywords.
func (c *Coach) handleCommand(ctx context.Context, userID, body string) string {
	fields := strings.Fields(strings.TrimSpace(body))
	if len(fields) == 0 {
		return menuText
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "menu", "help", "start", "hi", "hello":
		return menuText
	case "report":
		return c.startWeekly(userID)
	case "edit":
		return c.editField(userID, args)
	case "history":
		return c.history(userID)
	case "summary":
		return c.summary(userID, args)
	case "channels":
		return c.listChannels(userID)
	case "add":
		return c.addChannel(userID, args)
	case "remove":
		return c.removeChannel(userID, args)
	case "profile":
		return c.profile(userID, args)
	case "funnel":
		return c.switchFunnel(userID, args)
	case "remind":
		return c.remind(userID, args)
	case "export":
		return c.exportCSV(userID)
	case "analyze":
		return c.analyze(ctx, userID)
	default:
		return "Unknown command. Send \"menu\" for the list."
	}
}

func (c *Coach) activeFunnel(userID string) (models.FunnelType, error) {
	u, err := c.store.GetUser(userID)
	if err != nil {
		return "", err
	}
	if u == nil {
		return models.FunnelActive, nil
	}
	return u.ActiveFunnel, nil
}

func (c *Coach) startWeekly(userID string) string {
	ft, err := c.activeFunnel(userID)
	if err != nil {
		slog.Error("Failed to load user", "error", err, "userID", userID)
		return saveRetryMessage
	}
	channels, err := c.store.ListChannels(userID)
	if err != nil {
		slog.Error("Failed to list channels", "error", err, "userID", userID)
		return saveRetryMessage
	}
	if len(channels) == 0 {
		return "Add a channel first, e.g. \"add channel LinkedIn\"."
	}

	weekStart := models.WeekStartOf(c.now())
	w, err := flow.NewWeeklyWizard(userID, ft, weekStart, channels)
	if err != nil {
		slog.Error("Failed to start weekly wizard", "error", err, "userID", userID)
		return saveRetryMessage
	}
	c.sessions.Begin(userID, flow.KindWeekly, w)
	return w.Prompt()
}

// editField corrects one stage field of the current week to an absolute
// value: edit <channel> <stage|rejections> <value>.
func (c *Coach) editField(userID string, args []string) string {
	if len(args) < 3 {
		return "Usage: edit <channel> <stage|rejections> <value>"
	}
	ft, err := c.activeFunnel(userID)
	if err != nil {
		slog.Error("Failed to load user", "error", err, "userID", userID)
		return saveRetryMessage
	}

	channel := args[0]
	slotName := strings.ToLower(args[1])
	value, err := strconv.Atoi(args[2])
	if err != nil || value < 0 {
		return "The value must be a non-negative whole number."
	}

	slot, ok := resolveSlot(ft, slotName)
	if !ok {
		labels := funnel.StageLabels(ft)
		return fmt.Sprintf("Unknown field %q. Use one of: %s, rejections.",
			args[1], strings.ToLower(strings.Join(labels[:], ", ")))
	}

	weekStart := models.WeekStartOf(c.now())
	if err := c.store.UpdateWeekSlot(userID, weekStart, channel, ft, slot, value); err != nil {
		slog.Error("Failed to update week slot", "error", err, "userID", userID, "channel", channel, "slot", slot)
		return fmt.Sprintf("No data for channel %q this week yet. Send \"report\" first.", channel)
	}
	return fmt.Sprintf("Updated %s for %s to %d.", funnel.StageLabel(ft, slot), channel, value)
}

// resolveSlot maps a stage name to its slot index under the given variant.
func resolveSlot(ft models.FunnelType, name string) (int, bool) {
	if name == "rejections" || name == "rejection" {
		return funnel.RejectionIndex, true
	}
	labels := funnel.StageLabels(ft)
	for i, l := range labels {
		if strings.EqualFold(l, name) {
			return i, true
		}
	}
	// Numeric slot, 1-based like the prompts.
	if n, err := strconv.Atoi(name); err == nil && n >= 1 && n <= models.StageCount {
		return n - 1, true
	}
	return 0, false
}

func (c *Coach) history(userID string) string {
	ft, err := c.activeFunnel(userID)
	if err != nil {
		slog.Error("Failed to load user", "error", err, "userID", userID)
		return saveRetryMessage
	}
	rows, err := c.store.GetUserHistory(userID)
	if err != nil {
		slog.Error("Failed to load history", "error", err, "userID", userID)
		return saveRetryMessage
	}
	return metrics.FormatHistory(filterFunnel(rows, ft), ft)
}

func (c *Coach) summary(userID string, args []string) string {
	weeks := defaultSummaryWeeks
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return "Usage: summary [weeks]"
		}
		weeks = n
	}
	ft, err := c.activeFunnel(userID)
	if err != nil {
		slog.Error("Failed to load user", "error", err, "userID", userID)
		return saveRetryMessage
	}
	rows, err := c.store.GetUserHistory(userID)
	if err != nil {
		slog.Error("Failed to load history", "error", err, "userID", userID)
		return saveRetryMessage
	}
	cutoff := models.WeekStartOf(c.now().AddDate(0, 0, -7*(weeks-1)))
	var recent []models.WeekData
	for _, r := range filterFunnel(rows, ft) {
		if r.WeekStart >= cutoff {
			recent = append(recent, r)
		}
	}
	return metrics.FormatSummary(recent, ft, weeks)
}

func filterFunnel(rows []models.WeekData, ft models.FunnelType) []models.WeekData {
	var out []models.WeekData
	for _, r := range rows {
		if r.FunnelType == ft {
			out = append(out, r)
		}
	}
	return out
}

func (c *Coach) listChannels(userID string) string {
	channels, err := c.store.ListChannels(userID)
	if err != nil {
		slog.Error("Failed to list channels", "error", err, "userID", userID)
		return saveRetryMessage
	}
	if len(channels) == 0 {
		return "No channels yet. Add one with \"add channel <name>\"."
	}
	return "Channels:\n" + strings.Join(channels, "\n")
}

func (c *Coach) addChannel(userID string, args []string) string {
	if len(args) < 2 || strings.ToLower(args[0]) != "channel" {
		return "Usage: add channel <name>"
	}
	name := strings.Join(args[1:], " ")
	switch err := c.store.AddChannel(userID, name); err {
	case nil:
		return fmt.Sprintf("Channel %q added.", name)
	case models.ErrChannelExists:
		return fmt.Sprintf("Channel %q already exists.", name)
	case models.ErrEmptyChannelName, models.ErrChannelNameTooLong:
		return err.Error()
	default:
		slog.Error("Failed to add channel", "error", err, "userID", userID, "channel", name)
		return saveRetryMessage
	}
}

func (c *Coach) removeChannel(userID string, args []string) string {
	if len(args) < 2 || strings.ToLower(args[0]) != "channel" {
		return "Usage: remove channel <name>"
	}
	name := strings.Join(args[1:], " ")
	if err := c.store.RemoveChannel(userID, name); err != nil {
		slog.Error("Failed to remove channel", "error", err, "userID", userID, "channel", name)
		return saveRetryMessage
	}
	return fmt.Sprintf("Channel %q removed.", name)
}

func (c *Coach) profile(userID string, args []string) string {
	if len(args) > 0 && strings.ToLower(args[0]) == "delete" {
		if err := c.store.DeleteProfile(userID); err != nil {
			slog.Error("Failed to delete profile", "error", err, "userID", userID)
			return saveRetryMessage
		}
		return "Profile deleted."
	}
	w := flow.NewProfileWizard(userID, c.now())
	c.sessions.Begin(userID, flow.KindProfile, w)
	return w.Prompt()
}

func (c *Coach) switchFunnel(userID string, args []string) string {
	if len(args) != 1 {
		return "Usage: funnel <active|passive>"
	}
	ft := models.FunnelType(strings.ToLower(args[0]))
	if err := c.store.SetActiveFunnel(userID, ft); err != nil {
		if err == models.ErrInvalidFunnelType {
			return "Usage: funnel <active|passive>"
		}
		slog.Error("Failed to switch funnel", "error", err, "userID", userID)
		return saveRetryMessage
	}
	return fmt.Sprintf("Tracking the %s funnel now.", ft)
}

func (c *Coach) remind(userID string, args []string) string {
	if len(args) == 0 {
		return "Usage: remind <off|daily|weekly> [HH:MM] [timezone]"
	}
	freq := models.ReminderFrequency(strings.ToLower(args[0]))
	var sendTime, timezone string
	if len(args) > 1 {
		sendTime = args[1]
	}
	if len(args) > 2 {
		timezone = args[2]
	}
	if err := c.store.SetReminderSettings(userID, freq, sendTime, timezone); err != nil {
		switch err {
		case models.ErrInvalidFrequency, models.ErrInvalidReminderTime, models.ErrInvalidTimezone:
			return err.Error() + ". Usage: remind <off|daily|weekly> [HH:MM] [timezone]"
		}
		slog.Error("Failed to set reminder", "error", err, "userID", userID)
		return saveRetryMessage
	}
	if freq == models.ReminderOff {
		return "Reminders are off."
	}
	return fmt.Sprintf("Reminders set: %s.", freq)
}

func (c *Coach) exportCSV(userID string) string {
	ft, err := c.activeFunnel(userID)
	if err != nil {
		slog.Error("Failed to load user", "error", err, "userID", userID)
		return saveRetryMessage
	}
	rows, err := c.store.GetUserHistory(userID)
	if err != nil {
		slog.Error("Failed to load history", "error", err, "userID", userID)
		return saveRetryMessage
	}
	out, err := export.CSV(rows, ft)
	if err != nil {
		slog.Error("Failed to render export", "error", err, "userID", userID)
		return saveRetryMessage
	}
	// The byte order mark is for file downloads, not chat text.
	return strings.TrimPrefix(string(out), "\ufeff")
}

func (c *Coach) analyze(ctx context.Context, userID string) string {
	if c.analyzer == nil {
		return "Analysis is not configured."
	}
	out, err := c.analyzer.Analyze(ctx, userID)
	if err != nil {
		slog.Error("Analysis failed", "error", err, "userID", userID)
		return saveRetryMessage
	}
	return out
}
