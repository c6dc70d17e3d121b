// Package store provides storage backends for FunnelCoach.
//
// It includes SQLite and PostgreSQL backends plus an in-memory store used in
// tests. All rows are scoped to a single user id.
package store

import (
	"strings"

	"github.com/BTreeMap/FunnelCoach/internal/models"
)

// ChannelDeletePolicy controls what happens to historical week data when a
// channel is removed.
type ChannelDeletePolicy string

const (
	// ChannelDeleteOrphan keeps historical week data rows after channel removal.
	ChannelDeleteOrphan ChannelDeletePolicy = "orphan"
	// ChannelDeleteCascade deletes historical week data rows with the channel.
	ChannelDeleteCascade ChannelDeletePolicy = "cascade"
)

// Opts holds configuration for store backends.
type Opts struct {
	DSN          string
	DeletePolicy ChannelDeletePolicy
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithChannelDeletePolicy sets the policy for week data rows belonging to a
// removed channel. The default keeps history (orphan).
func WithChannelDeletePolicy(p ChannelDeletePolicy) Option {
	return func(o *Opts) { o.DeletePolicy = p }
}

// DetectDSNType reports "postgres" for PostgreSQL-style DSNs and "sqlite"
// for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// Users
	EnsureUser(userID, username string) error
	GetUser(userID string) (*models.User, error)
	SetActiveFunnel(userID string, ft models.FunnelType) error
	SetReminderSettings(userID string, freq models.ReminderFrequency, sendTime, timezone string) error
	ListUsersByReminderFrequency(freq models.ReminderFrequency) ([]models.User, error)

	// Channels
	AddChannel(userID, name string) error
	RemoveChannel(userID, name string) error
	ListChannels(userID string) ([]string, error)

	// Week data. AddWeekData sums the submitted counts into any existing row
	// for the same (user, week, channel, funnel) key in one transaction and
	// returns the counts before and after, for reflection trigger checks.
	AddWeekData(d models.WeekData) (old, updated models.StageCounts, err error)
	GetWeekData(userID, weekStart, channel string, ft models.FunnelType) (*models.WeekData, error)
	UpdateWeekSlot(userID, weekStart, channel string, ft models.FunnelType, slot, value int) error
	GetUserHistory(userID string) ([]models.WeekData, error)

	// Profiles. SaveProfile upserts the full profile atomically and aligns
	// the user's active funnel with the profile preference.
	SaveProfile(p models.Profile) error
	GetProfile(userID string) (*models.Profile, error)
	DeleteProfile(userID string) error

	// Reflections. SaveReflections commits all sections of one form together.
	SaveReflections(records []models.ReflectionRecord) error
	GetReflectionHistory(userID string, limit int) ([]models.ReflectionRecord, error)

	Close() error
}
