// Package models defines the core data structures for FunnelCoach.
//
// It includes funnel, week data, profile and reflection types, which are
// shared across modules.
package models

import (
	"errors"
	"time"
)

// FunnelType selects which of the two funnel variants a user tracks.
type FunnelType string

const (
	// FunnelActive tracks outbound applications.
	FunnelActive FunnelType = "active"
	// FunnelPassive tracks inbound interest on a visible profile.
	FunnelPassive FunnelType = "passive"
)

// ReminderFrequency configures how often a user is reminded to report.
type ReminderFrequency string

const (
	ReminderOff    ReminderFrequency = "off"
	ReminderDaily  ReminderFrequency = "daily"
	ReminderWeekly ReminderFrequency = "weekly"
)

// Validation constants for input validation
const (
	// MaxChannelNameLength defines the maximum allowed length for channel names
	MaxChannelNameLength = 50
	// MaxProfileFieldLength defines the maximum allowed length for short profile fields
	MaxProfileFieldLength = 100
	// MaxFreeTextLength defines the maximum allowed length for free-text answers
	MaxFreeTextLength = 500
	// MaxRoleSynonyms defines the maximum number of role synonyms in a profile
	MaxRoleSynonyms = 4
	// MinDeadlineWeeks and MaxDeadlineWeeks bound the job-search deadline field
	MinDeadlineWeeks = 1
	MaxDeadlineWeeks = 52
	// MinRating and MaxRating bound reflection rating answers
	MinRating = 1
	MaxRating = 5
)

// Error variables for better error handling and testability
var (
	ErrInvalidFunnelType   = errors.New("invalid funnel type")
	ErrInvalidFrequency    = errors.New("invalid reminder frequency")
	ErrInvalidTimezone     = errors.New("invalid timezone")
	ErrInvalidReminderTime = errors.New("reminder time must be in HH:MM format")
	ErrEmptyChannelName    = errors.New("channel name cannot be empty")
	ErrChannelNameTooLong  = errors.New("channel name exceeds maximum length")
	ErrChannelExists       = errors.New("channel already exists")
	ErrNegativeCount       = errors.New("stage counts must be non-negative")
	ErrInvalidWeekStart    = errors.New("week start must be a YYYY-MM-DD date")
	ErrInvalidRating       = errors.New("rating must be between 1 and 5")
	ErrFreeTextTooLong     = errors.New("answer exceeds maximum length")
	ErrProfileFieldTooLong = errors.New("profile field exceeds maximum length")
	ErrEmptyProfileField   = errors.New("profile field cannot be empty")
	ErrDeadlineOutOfRange  = errors.New("deadline must be between 1 and 52 weeks")
	ErrTooManyRoleSynonyms = errors.New("too many role synonyms")
	ErrEmptyUserID         = errors.New("user id cannot be empty")
)

// IsValidFunnelType checks if the given funnel type is supported.
func IsValidFunnelType(ft FunnelType) bool {
	switch ft {
	case FunnelActive, FunnelPassive:
		return true
	default:
		return false
	}
}

// IsValidReminderFrequency checks if the given reminder frequency is supported.
func IsValidReminderFrequency(f ReminderFrequency) bool {
	switch f {
	case ReminderOff, ReminderDaily, ReminderWeekly:
		return true
	default:
		return false
	}
}

// StageCount is the number of ordered stages in every funnel variant.
const StageCount = 5

// StageCounts holds one reporting row: the five ordered funnel slots plus
// rejections, which sit outside the ordered funnel. The slot meaning
// (Applications vs Views, ...) is resolved by the funnel variant; storage
// is variant-agnostic.
type StageCounts struct {
	Stages     [StageCount]int `json:"stages"`
	Rejections int             `json:"rejections"`
}

// Add returns the element-wise sum of two count rows.
func (c StageCounts) Add(o StageCounts) StageCounts {
	var sum StageCounts
	for i := range c.Stages {
		sum.Stages[i] = c.Stages[i] + o.Stages[i]
	}
	sum.Rejections = c.Rejections + o.Rejections
	return sum
}

// Validate ensures all counts are non-negative.
func (c StageCounts) Validate() error {
	for _, v := range c.Stages {
		if v < 0 {
			return ErrNegativeCount
		}
	}
	if c.Rejections < 0 {
		return ErrNegativeCount
	}
	return nil
}

// WeekData is one reporting row for a (user, week, channel, funnel) key.
type WeekData struct {
	UserID     string      `json:"user_id"`
	WeekStart  string      `json:"week_start"` // Monday of the reporting week, YYYY-MM-DD
	Channel    string      `json:"channel"`
	FunnelType FunnelType  `json:"funnel_type"`
	Counts     StageCounts `json:"counts"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Channel is a named acquisition source owned by one user.
type Channel struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateChannelName validates a user-supplied channel name.
func ValidateChannelName(name string) error {
	if name == "" {
		return ErrEmptyChannelName
	}
	if len(name) > MaxChannelNameLength {
		return ErrChannelNameTooLong
	}
	return nil
}

// User holds per-user identity and settings. Created on first interaction.
type User struct {
	ID                string            `json:"id"`
	Username          string            `json:"username,omitempty"`
	ActiveFunnel      FunnelType        `json:"active_funnel"`
	ReminderFrequency ReminderFrequency `json:"reminder_frequency"`
	ReminderTime      string            `json:"reminder_time"` // e.g. "18:00", user-local
	Timezone          string            `json:"timezone"`      // e.g. "Europe/Berlin"
	CreatedAt         time.Time         `json:"created_at"`
}

// ValidateReminderSettings checks frequency, send time and timezone together.
func ValidateReminderSettings(freq ReminderFrequency, sendTime, timezone string) error {
	if !IsValidReminderFrequency(freq) {
		return ErrInvalidFrequency
	}
	if sendTime != "" {
		if _, err := time.Parse("15:04", sendTime); err != nil {
			return ErrInvalidReminderTime
		}
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return ErrInvalidTimezone
		}
	}
	return nil
}

// ValidateWeekStart checks that a week key is a YYYY-MM-DD date.
func ValidateWeekStart(weekStart string) error {
	if _, err := time.Parse("2006-01-02", weekStart); err != nil {
		return ErrInvalidWeekStart
	}
	return nil
}

// WeekStartOf returns the Monday of the week containing t, as YYYY-MM-DD.
func WeekStartOf(t time.Time) string {
	weekday := int(t.Weekday())
	if weekday == 0 { // Sunday
		weekday = 7
	}
	monday := t.AddDate(0, 0, -(weekday - 1))
	return monday.Format("2006-01-02")
}

// SalaryRange is an optional profile field.
type SalaryRange struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Currency string  `json:"currency"`
	Period   string  `json:"period"` // e.g. "year", "month"
}

// Profile is the optional one-per-user record of career attributes.
// Optional list fields are typed here and serialized to JSON only at the
// storage edge.
type Profile struct {
	UserID          string       `json:"user_id"`
	Role            string       `json:"role"`
	CurrentLocation string       `json:"current_location"`
	TargetLocation  string       `json:"target_location"`
	Level           string       `json:"level"`
	DeadlineWeeks   int          `json:"deadline_weeks"`
	TargetEndDate   string       `json:"target_end_date"` // YYYY-MM-DD
	PreferredFunnel FunnelType   `json:"preferred_funnel"`
	RoleSynonyms    []string     `json:"role_synonyms,omitempty"`
	Salary          *SalaryRange `json:"salary,omitempty"`
	Industries      []string     `json:"industries,omitempty"`
	Competencies    []string     `json:"competencies,omitempty"`
	Constraints     string       `json:"constraints,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Validate performs validation on the required profile fields.
func (p *Profile) Validate() error {
	if p.UserID == "" {
		return ErrEmptyUserID
	}
	for _, field := range []string{p.Role, p.CurrentLocation, p.TargetLocation, p.Level} {
		if field == "" {
			return ErrEmptyProfileField
		}
		if len(field) > MaxProfileFieldLength {
			return ErrProfileFieldTooLong
		}
	}
	if p.DeadlineWeeks < MinDeadlineWeeks || p.DeadlineWeeks > MaxDeadlineWeeks {
		return ErrDeadlineOutOfRange
	}
	if len(p.RoleSynonyms) > MaxRoleSynonyms {
		return ErrTooManyRoleSynonyms
	}
	if !IsValidFunnelType(p.PreferredFunnel) {
		return ErrInvalidFunnelType
	}
	return nil
}

// ReflectionSection holds the answers for one qualifying stage of a
// reflection form.
type ReflectionSection struct {
	Stage             string   `json:"stage"` // e.g. "response", "screening", "rejection"
	EventsCount       int      `json:"events_count"`
	RatingOverall     int      `json:"rating_overall,omitempty"`
	Strengths         string   `json:"strengths,omitempty"`
	Weaknesses        string   `json:"weaknesses,omitempty"`
	RatingMood        int      `json:"rating_mood,omitempty"`
	RejectAfterStage  string   `json:"reject_after_stage,omitempty"`
	RejectReasons     []string `json:"reject_reasons,omitempty"`
	RejectReasonOther string   `json:"reject_reason_other,omitempty"`
}

// ReflectionRecord is one persisted reflection section, keyed to the
// submission context that triggered it. Immutable once saved.
type ReflectionRecord struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	FunnelType FunnelType        `json:"funnel_type"`
	Channel    string            `json:"channel"`
	WeekStart  string            `json:"week_start"`
	Section    ReflectionSection `json:"section"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ValidateRating checks a 1..5 rating answer.
func ValidateRating(r int) error {
	if r < MinRating || r > MaxRating {
		return ErrInvalidRating
	}
	return nil
}

// Response represents an incoming message from a user on the chat transport.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}
