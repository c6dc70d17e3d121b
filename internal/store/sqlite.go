// Package store provides storage backends for FunnelCoach.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/FunnelCoach/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db           *sql.DB
	deletePolicy ChannelDeletePolicy
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Columns added after the initial release. SQLite has no ADD COLUMN IF
	// NOT EXISTS, so a duplicate-column error means the column is present.
	addColumn(db, "users", "reminder_time", "TEXT NOT NULL DEFAULT '18:00'")
	addColumn(db, "users", "timezone", "TEXT NOT NULL DEFAULT 'UTC'")

	policy := cfg.DeletePolicy
	if policy == "" {
		policy = ChannelDeleteOrphan
	}

	slog.Debug("SQLite migrations applied successfully")
	return &SQLiteStore{db: db, deletePolicy: policy}, nil
}

// addColumn applies an additive column migration without data loss.
func addColumn(db *sql.DB, table, column, ddl string) {
	_, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, ddl))
	if err != nil {
		if strings.Contains(err.Error(), "duplicate column") {
			return
		}
		slog.Error("SQLiteStore addColumn failed", "error", err, "table", table, "column", column)
		return
	}
	slog.Info("SQLiteStore added column", "table", table, "column", column)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// EnsureUser inserts a user row on first interaction; existing rows are left
// untouched.
func (s *SQLiteStore) EnsureUser(userID, username string) error {
	if userID == "" {
		return models.ErrEmptyUserID
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO users (user_id, username, created_at) VALUES (?, ?, ?)`,
		userID, nilIfEmpty(username), time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore EnsureUser failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to ensure user %s: %w", userID, err)
	}
	return nil
}

// GetUser retrieves a user, or nil if the user has never interacted.
func (s *SQLiteStore) GetUser(userID string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT user_id, username, active_funnel, reminder_frequency, reminder_time, timezone, created_at
		FROM users WHERE user_id = ?`, userID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return u, nil
}

// SetActiveFunnel updates the user's active funnel variant.
func (s *SQLiteStore) SetActiveFunnel(userID string, ft models.FunnelType) error {
	if !models.IsValidFunnelType(ft) {
		return models.ErrInvalidFunnelType
	}
	_, err := s.db.Exec(`UPDATE users SET active_funnel = ? WHERE user_id = ?`, string(ft), userID)
	if err != nil {
		slog.Error("SQLiteStore SetActiveFunnel failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to set active funnel for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore SetActiveFunnel succeeded", "userID", userID, "funnel", ft)
	return nil
}

// SetReminderSettings updates the user's reminder preference.
func (s *SQLiteStore) SetReminderSettings(userID string, freq models.ReminderFrequency, sendTime, timezone string) error {
	if err := models.ValidateReminderSettings(freq, sendTime, timezone); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE users SET reminder_frequency = ?,
		reminder_time = COALESCE(NULLIF(?, ''), reminder_time),
		timezone = COALESCE(NULLIF(?, ''), timezone)
		WHERE user_id = ?`, string(freq), sendTime, timezone, userID)
	if err != nil {
		slog.Error("SQLiteStore SetReminderSettings failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to set reminder settings for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore SetReminderSettings succeeded", "userID", userID, "frequency", freq)
	return nil
}

// ListUsersByReminderFrequency returns users subscribed at the given cadence.
func (s *SQLiteStore) ListUsersByReminderFrequency(freq models.ReminderFrequency) ([]models.User, error) {
	rows, err := s.db.Query(`SELECT user_id, username, active_funnel, reminder_frequency, reminder_time, timezone, created_at
		FROM users WHERE reminder_frequency = ?`, string(freq))
	if err != nil {
		slog.Error("SQLiteStore ListUsersByReminderFrequency query failed", "error", err, "frequency", freq)
		return nil, fmt.Errorf("failed to query users by frequency: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

// AddChannel adds a named channel for a user. Duplicate names return
// models.ErrChannelExists.
func (s *SQLiteStore) AddChannel(userID, name string) error {
	if err := models.ValidateChannelName(name); err != nil {
		return err
	}
	res, err := s.db.Exec(`INSERT OR IGNORE INTO user_channels (user_id, channel_name, created_at) VALUES (?, ?, ?)`,
		userID, name, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore AddChannel failed", "error", err, "userID", userID, "channel", name)
		return fmt.Errorf("failed to add channel %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrChannelExists
	}
	slog.Debug("SQLiteStore AddChannel succeeded", "userID", userID, "channel", name)
	return nil
}

// RemoveChannel removes a channel. Historical week data is kept or cascaded
// per the configured delete policy.
func (s *SQLiteStore) RemoveChannel(userID, name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM user_channels WHERE user_id = ? AND channel_name = ?`, userID, name); err != nil {
		slog.Error("SQLiteStore RemoveChannel failed", "error", err, "userID", userID, "channel", name)
		return fmt.Errorf("failed to remove channel %s: %w", name, err)
	}
	if s.deletePolicy == ChannelDeleteCascade {
		if _, err := tx.Exec(`DELETE FROM week_data WHERE user_id = ? AND channel_name = ?`, userID, name); err != nil {
			slog.Error("SQLiteStore RemoveChannel cascade failed", "error", err, "userID", userID, "channel", name)
			return fmt.Errorf("failed to cascade week data for channel %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit channel removal: %w", err)
	}
	slog.Debug("SQLiteStore RemoveChannel succeeded", "userID", userID, "channel", name, "policy", s.deletePolicy)
	return nil
}

// ListChannels returns the user's channel names in creation order.
func (s *SQLiteStore) ListChannels(userID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT channel_name FROM user_channels WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListChannels query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		channels = append(channels, name)
	}
	return channels, rows.Err()
}

// AddWeekData sums the submitted counts into the row for the same
// (user, week, channel, funnel) key, inserting it if absent. The read,
// upsert and returned before/after counts happen in one transaction.
func (s *SQLiteStore) AddWeekData(d models.WeekData) (models.StageCounts, models.StageCounts, error) {
	var zero models.StageCounts
	if err := d.Counts.Validate(); err != nil {
		return zero, zero, err
	}
	if err := models.ValidateWeekStart(d.WeekStart); err != nil {
		return zero, zero, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return zero, zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var old models.StageCounts
	err = tx.QueryRow(`SELECT stage1, stage2, stage3, stage4, stage5, rejections FROM week_data
		WHERE user_id = ? AND week_start = ? AND channel_name = ? AND funnel_type = ?`,
		d.UserID, d.WeekStart, d.Channel, string(d.FunnelType)).Scan(
		&old.Stages[0], &old.Stages[1], &old.Stages[2], &old.Stages[3], &old.Stages[4], &old.Rejections)
	if err != nil && err != sql.ErrNoRows {
		slog.Error("SQLiteStore AddWeekData read failed", "error", err, "userID", d.UserID, "week", d.WeekStart)
		return zero, zero, fmt.Errorf("failed to read existing week data: %w", err)
	}

	updated := old.Add(d.Counts)
	now := time.Now().UTC()
	_, err = tx.Exec(`INSERT INTO week_data
		(user_id, week_start, channel_name, funnel_type, stage1, stage2, stage3, stage4, stage5, rejections, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, week_start, channel_name, funnel_type) DO UPDATE SET
		stage1 = excluded.stage1, stage2 = excluded.stage2, stage3 = excluded.stage3,
		stage4 = excluded.stage4, stage5 = excluded.stage5, rejections = excluded.rejections,
		updated_at = excluded.updated_at`,
		d.UserID, d.WeekStart, d.Channel, string(d.FunnelType),
		updated.Stages[0], updated.Stages[1], updated.Stages[2], updated.Stages[3], updated.Stages[4],
		updated.Rejections, now, now)
	if err != nil {
		slog.Error("SQLiteStore AddWeekData upsert failed", "error", err, "userID", d.UserID, "week", d.WeekStart, "channel", d.Channel)
		return zero, zero, fmt.Errorf("failed to upsert week data: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return zero, zero, fmt.Errorf("failed to commit week data: %w", err)
	}
	slog.Debug("SQLiteStore AddWeekData succeeded", "userID", d.UserID, "week", d.WeekStart, "channel", d.Channel)
	return old, updated, nil
}

// GetWeekData retrieves one week data row, or nil if absent.
func (s *SQLiteStore) GetWeekData(userID, weekStart, channel string, ft models.FunnelType) (*models.WeekData, error) {
	row := s.db.QueryRow(`SELECT user_id, week_start, channel_name, funnel_type,
		stage1, stage2, stage3, stage4, stage5, rejections, created_at, updated_at
		FROM week_data WHERE user_id = ? AND week_start = ? AND channel_name = ? AND funnel_type = ?`,
		userID, weekStart, channel, string(ft))
	d, err := scanWeekData(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetWeekData failed", "error", err, "userID", userID, "week", weekStart)
		return nil, fmt.Errorf("failed to get week data: %w", err)
	}
	return d, nil
}

// UpdateWeekSlot sets one stage slot (0..4, or funnel.RejectionIndex for the
// rejections counter via slot == -1) to an absolute value. Used for
// corrections; decreases are allowed.
func (s *SQLiteStore) UpdateWeekSlot(userID, weekStart, channel string, ft models.FunnelType, slot, value int) error {
	column, err := slotColumn(slot)
	if err != nil {
		return err
	}
	if value < 0 {
		return models.ErrNegativeCount
	}
	res, err := s.db.Exec(fmt.Sprintf(`UPDATE week_data SET %s = ?, updated_at = ?
		WHERE user_id = ? AND week_start = ? AND channel_name = ? AND funnel_type = ?`, column),
		value, time.Now().UTC(), userID, weekStart, channel, string(ft))
	if err != nil {
		slog.Error("SQLiteStore UpdateWeekSlot failed", "error", err, "userID", userID, "week", weekStart, "slot", slot)
		return fmt.Errorf("failed to update week slot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	slog.Debug("SQLiteStore UpdateWeekSlot succeeded", "userID", userID, "week", weekStart, "slot", slot, "value", value)
	return nil
}

// GetUserHistory returns all week data rows for a user, newest week first.
func (s *SQLiteStore) GetUserHistory(userID string) ([]models.WeekData, error) {
	rows, err := s.db.Query(`SELECT user_id, week_start, channel_name, funnel_type,
		stage1, stage2, stage3, stage4, stage5, rejections, created_at, updated_at
		FROM week_data WHERE user_id = ? ORDER BY week_start DESC, channel_name`, userID)
	if err != nil {
		slog.Error("SQLiteStore GetUserHistory query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()
	return collectWeekData(rows)
}

// SaveProfile upserts the profile in one transaction and aligns the user's
// active funnel with the profile preference.
func (s *SQLiteStore) SaveProfile(p models.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	enc, err := encodeProfileJSON(p)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.Exec(`INSERT INTO profiles
		(user_id, role, current_location, target_location, level, deadline_weeks, target_end_date,
		 preferred_funnel_type, role_synonyms_json, salary_json, industries_json, competencies_json,
		 constraints_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		role = excluded.role, current_location = excluded.current_location,
		target_location = excluded.target_location, level = excluded.level,
		deadline_weeks = excluded.deadline_weeks, target_end_date = excluded.target_end_date,
		preferred_funnel_type = excluded.preferred_funnel_type,
		role_synonyms_json = excluded.role_synonyms_json, salary_json = excluded.salary_json,
		industries_json = excluded.industries_json, competencies_json = excluded.competencies_json,
		constraints_text = excluded.constraints_text, updated_at = excluded.updated_at`,
		p.UserID, p.Role, p.CurrentLocation, p.TargetLocation, p.Level, p.DeadlineWeeks, p.TargetEndDate,
		string(p.PreferredFunnel), enc.roleSynonyms, enc.salary, enc.industries, enc.competencies,
		nilIfEmpty(p.Constraints), now, now)
	if err != nil {
		slog.Error("SQLiteStore SaveProfile upsert failed", "error", err, "userID", p.UserID)
		return fmt.Errorf("failed to save profile: %w", err)
	}

	if _, err := tx.Exec(`UPDATE users SET active_funnel = ? WHERE user_id = ?`,
		string(p.PreferredFunnel), p.UserID); err != nil {
		slog.Error("SQLiteStore SaveProfile funnel sync failed", "error", err, "userID", p.UserID)
		return fmt.Errorf("failed to sync active funnel: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profile: %w", err)
	}
	slog.Info("SQLiteStore SaveProfile succeeded", "userID", p.UserID)
	return nil
}

// GetProfile retrieves the user's profile, or nil if none exists.
func (s *SQLiteStore) GetProfile(userID string) (*models.Profile, error) {
	row := s.db.QueryRow(`SELECT user_id, role, current_location, target_location, level,
		deadline_weeks, target_end_date, preferred_funnel_type, role_synonyms_json, salary_json,
		industries_json, competencies_json, constraints_text, created_at, updated_at
		FROM profiles WHERE user_id = ?`, userID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfile failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// DeleteProfile removes the user's profile.
func (s *SQLiteStore) DeleteProfile(userID string) error {
	_, err := s.db.Exec(`DELETE FROM profiles WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore DeleteProfile failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// SaveReflections persists all sections of one reflection form in a single
// transaction.
func (s *SQLiteStore) SaveReflections(records []models.ReflectionRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, r := range records {
		reasonsJSON, err := encodeStringList(r.Section.RejectReasons)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO reflections
			(id, user_id, funnel_type, channel_name, week_start, section_stage, events_count,
			 rating_overall, strengths, weaknesses, rating_mood, reject_after_stage,
			 reject_reasons_json, reject_reason_other, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.UserID, string(r.FunnelType), r.Channel, r.WeekStart,
			r.Section.Stage, r.Section.EventsCount,
			nilIfZero(r.Section.RatingOverall), nilIfEmpty(r.Section.Strengths),
			nilIfEmpty(r.Section.Weaknesses), nilIfZero(r.Section.RatingMood),
			nilIfEmpty(r.Section.RejectAfterStage), reasonsJSON,
			nilIfEmpty(r.Section.RejectReasonOther), now)
		if err != nil {
			slog.Error("SQLiteStore SaveReflections insert failed", "error", err, "userID", r.UserID, "stage", r.Section.Stage)
			return fmt.Errorf("failed to insert reflection for stage %s: %w", r.Section.Stage, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reflections: %w", err)
	}
	slog.Info("SQLiteStore SaveReflections succeeded", "count", len(records), "userID", records[0].UserID)
	return nil
}

// GetReflectionHistory returns the user's most recent reflection records.
func (s *SQLiteStore) GetReflectionHistory(userID string, limit int) ([]models.ReflectionRecord, error) {
	rows, err := s.db.Query(`SELECT id, user_id, funnel_type, channel_name, week_start, section_stage,
		events_count, rating_overall, strengths, weaknesses, rating_mood, reject_after_stage,
		reject_reasons_json, reject_reason_other, created_at
		FROM reflections WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		slog.Error("SQLiteStore GetReflectionHistory query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query reflections: %w", err)
	}
	defer rows.Close()
	return collectReflections(rows)
}

// slotColumn maps a stage slot index to its column name.
func slotColumn(slot int) (string, error) {
	switch slot {
	case 0, 1, 2, 3, 4:
		return fmt.Sprintf("stage%d", slot+1), nil
	case -1:
		return "rejections", nil
	default:
		return "", fmt.Errorf("invalid stage slot %d", slot)
	}
}
