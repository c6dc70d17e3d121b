// PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/FunnelCoach/internal/models"
	_ "github.com/lib/pq"
)

// Connection pool settings for the PostgreSQL backend.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db           *sql.DB
	deletePolicy ChannelDeletePolicy
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Debug("Running PostgreSQL migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	policy := cfg.DeletePolicy
	if policy == "" {
		policy = ChannelDeleteOrphan
	}

	slog.Debug("PostgreSQL migrations applied successfully")
	return &PostgresStore{db: db, deletePolicy: policy}, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}

func (s *PostgresStore) EnsureUser(userID, username string) error {
	if userID == "" {
		return models.ErrEmptyUserID
	}
	_, err := s.db.Exec(`INSERT INTO users (user_id, username, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`, userID, nilIfEmpty(username), time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore EnsureUser failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to ensure user %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) GetUser(userID string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT user_id, username, active_funnel, reminder_frequency, reminder_time, timezone, created_at
		FROM users WHERE user_id = $1`, userID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return u, nil
}

func (s *PostgresStore) SetActiveFunnel(userID string, ft models.FunnelType) error {
	if !models.IsValidFunnelType(ft) {
		return models.ErrInvalidFunnelType
	}
	_, err := s.db.Exec(`UPDATE users SET active_funnel = $1 WHERE user_id = $2`, string(ft), userID)
	if err != nil {
		slog.Error("PostgresStore SetActiveFunnel failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to set active funnel for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore SetActiveFunnel succeeded", "userID", userID, "funnel", ft)
	return nil
}

func (s *PostgresStore) SetReminderSettings(userID string, freq models.ReminderFrequency, sendTime, timezone string) error {
	if err := models.ValidateReminderSettings(freq, sendTime, timezone); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE users SET reminder_frequency = $1,
		reminder_time = COALESCE(NULLIF($2, ''), reminder_time),
		timezone = COALESCE(NULLIF($3, ''), timezone)
		WHERE user_id = $4`, string(freq), sendTime, timezone, userID)
	if err != nil {
		slog.Error("PostgresStore SetReminderSettings failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to set reminder settings for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore SetReminderSettings succeeded", "userID", userID, "frequency", freq)
	return nil
}

func (s *PostgresStore) ListUsersByReminderFrequency(freq models.ReminderFrequency) ([]models.User, error) {
	rows, err := s.db.Query(`SELECT user_id, username, active_funnel, reminder_frequency, reminder_time, timezone, created_at
		FROM users WHERE reminder_frequency = $1`, string(freq))
	if err != nil {
		slog.Error("PostgresStore ListUsersByReminderFrequency query failed", "error", err, "frequency", freq)
		return nil, fmt.Errorf("failed to query users by frequency: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (s *PostgresStore) AddChannel(userID, name string) error {
	if err := models.ValidateChannelName(name); err != nil {
		return err
	}
	res, err := s.db.Exec(`INSERT INTO user_channels (user_id, channel_name, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, channel_name) DO NOTHING`, userID, name, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore AddChannel failed", "error", err, "userID", userID, "channel", name)
		return fmt.Errorf("failed to add channel %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrChannelExists
	}
	slog.Debug("PostgresStore AddChannel succeeded", "userID", userID, "channel", name)
	return nil
}

func (s *PostgresStore) RemoveChannel(userID, name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM user_channels WHERE user_id = $1 AND channel_name = $2`, userID, name); err != nil {
		slog.Error("PostgresStore RemoveChannel failed", "error", err, "userID", userID, "channel", name)
		return fmt.Errorf("failed to remove channel %s: %w", name, err)
	}
	if s.deletePolicy == ChannelDeleteCascade {
		if _, err := tx.Exec(`DELETE FROM week_data WHERE user_id = $1 AND channel_name = $2`, userID, name); err != nil {
			slog.Error("PostgresStore RemoveChannel cascade failed", "error", err, "userID", userID, "channel", name)
			return fmt.Errorf("failed to cascade week data for channel %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit channel removal: %w", err)
	}
	slog.Debug("PostgresStore RemoveChannel succeeded", "userID", userID, "channel", name, "policy", s.deletePolicy)
	return nil
}

func (s *PostgresStore) ListChannels(userID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT channel_name FROM user_channels WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		slog.Error("PostgresStore ListChannels query failed", "error", err, "userID", userID)
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

func (s *PostgresStore) AddWeekData(d models.WeekData) (models.StageCounts, models.StageCounts, error) {
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
		WHERE user_id = $1 AND week_start = $2 AND channel_name = $3 AND funnel_type = $4
		FOR UPDATE`,
		d.UserID, d.WeekStart, d.Channel, string(d.FunnelType)).Scan(
		&old.Stages[0], &old.Stages[1], &old.Stages[2], &old.Stages[3], &old.Stages[4], &old.Rejections)
	if err != nil && err != sql.ErrNoRows {
		slog.Error("PostgresStore AddWeekData read failed", "error", err, "userID", d.UserID, "week", d.WeekStart)
		return zero, zero, fmt.Errorf("failed to read existing week data: %w", err)
	}

	updated := old.Add(d.Counts)
	now := time.Now().UTC()
	_, err = tx.Exec(`INSERT INTO week_data
		(user_id, week_start, channel_name, funnel_type, stage1, stage2, stage3, stage4, stage5, rejections, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, week_start, channel_name, funnel_type) DO UPDATE SET
		stage1 = EXCLUDED.stage1, stage2 = EXCLUDED.stage2, stage3 = EXCLUDED.stage3,
		stage4 = EXCLUDED.stage4, stage5 = EXCLUDED.stage5, rejections = EXCLUDED.rejections,
		updated_at = EXCLUDED.updated_at`,
		d.UserID, d.WeekStart, d.Channel, string(d.FunnelType),
		updated.Stages[0], updated.Stages[1], updated.Stages[2], updated.Stages[3], updated.Stages[4],
		updated.Rejections, now, now)
	if err != nil {
		slog.Error("PostgresStore AddWeekData upsert failed", "error", err, "userID", d.UserID, "week", d.WeekStart, "channel", d.Channel)
		return zero, zero, fmt.Errorf("failed to upsert week data: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return zero, zero, fmt.Errorf("failed to commit week data: %w", err)
	}
	slog.Debug("PostgresStore AddWeekData succeeded", "userID", d.UserID, "week", d.WeekStart, "channel", d.Channel)
	return old, updated, nil
}

func (s *PostgresStore) GetWeekData(userID, weekStart, channel string, ft models.FunnelType) (*models.WeekData, error) {
	row := s.db.QueryRow(`SELECT user_id, week_start, channel_name, funnel_type,
		stage1, stage2, stage3, stage4, stage5, rejections, created_at, updated_at
		FROM week_data WHERE user_id = $1 AND week_start = $2 AND channel_name = $3 AND funnel_type = $4`,
		userID, weekStart, channel, string(ft))
	d, err := scanWeekData(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetWeekData failed", "error", err, "userID", userID, "week", weekStart)
		return nil, fmt.Errorf("failed to get week data: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) UpdateWeekSlot(userID, weekStart, channel string, ft models.FunnelType, slot, value int) error {
	column, err := slotColumn(slot)
	if err != nil {
		return err
	}
	if value < 0 {
		return models.ErrNegativeCount
	}
	res, err := s.db.Exec(fmt.Sprintf(`UPDATE week_data SET %s = $1, updated_at = $2
		WHERE user_id = $3 AND week_start = $4 AND channel_name = $5 AND funnel_type = $6`, column),
		value, time.Now().UTC(), userID, weekStart, channel, string(ft))
	if err != nil {
		slog.Error("PostgresStore UpdateWeekSlot failed", "error", err, "userID", userID, "week", weekStart, "slot", slot)
		return fmt.Errorf("failed to update week slot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	slog.Debug("PostgresStore UpdateWeekSlot succeeded", "userID", userID, "week", weekStart, "slot", slot, "value", value)
	return nil
}

func (s *PostgresStore) GetUserHistory(userID string) ([]models.WeekData, error) {
	rows, err := s.db.Query(`SELECT user_id, week_start, channel_name, funnel_type,
		stage1, stage2, stage3, stage4, stage5, rejections, created_at, updated_at
		FROM week_data WHERE user_id = $1 ORDER BY week_start DESC, channel_name`, userID)
	if err != nil {
		slog.Error("PostgresStore GetUserHistory query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()
	return collectWeekData(rows)
}

func (s *PostgresStore) SaveProfile(p models.Profile) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_id) DO UPDATE SET
		role = EXCLUDED.role, current_location = EXCLUDED.current_location,
		target_location = EXCLUDED.target_location, level = EXCLUDED.level,
		deadline_weeks = EXCLUDED.deadline_weeks, target_end_date = EXCLUDED.target_end_date,
		preferred_funnel_type = EXCLUDED.preferred_funnel_type,
		role_synonyms_json = EXCLUDED.role_synonyms_json, salary_json = EXCLUDED.salary_json,
		industries_json = EXCLUDED.industries_json, competencies_json = EXCLUDED.competencies_json,
		constraints_text = EXCLUDED.constraints_text, updated_at = EXCLUDED.updated_at`,
		p.UserID, p.Role, p.CurrentLocation, p.TargetLocation, p.Level, p.DeadlineWeeks, p.TargetEndDate,
		string(p.PreferredFunnel), enc.roleSynonyms, enc.salary, enc.industries, enc.competencies,
		nilIfEmpty(p.Constraints), now, now)
	if err != nil {
		slog.Error("PostgresStore SaveProfile upsert failed", "error", err, "userID", p.UserID)
		return fmt.Errorf("failed to save profile: %w", err)
	}

	if _, err := tx.Exec(`UPDATE users SET active_funnel = $1 WHERE user_id = $2`,
		string(p.PreferredFunnel), p.UserID); err != nil {
		slog.Error("PostgresStore SaveProfile funnel sync failed", "error", err, "userID", p.UserID)
		return fmt.Errorf("failed to sync active funnel: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profile: %w", err)
	}
	slog.Info("PostgresStore SaveProfile succeeded", "userID", p.UserID)
	return nil
}

func (s *PostgresStore) GetProfile(userID string) (*models.Profile, error) {
	row := s.db.QueryRow(`SELECT user_id, role, current_location, target_location, level,
		deadline_weeks, target_end_date, preferred_funnel_type, role_synonyms_json, salary_json,
		industries_json, competencies_json, constraints_text, created_at, updated_at
		FROM profiles WHERE user_id = $1`, userID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProfile failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) DeleteProfile(userID string) error {
	_, err := s.db.Exec(`DELETE FROM profiles WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore DeleteProfile failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveReflections(records []models.ReflectionRecord) error {
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
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			r.ID, r.UserID, string(r.FunnelType), r.Channel, r.WeekStart,
			r.Section.Stage, r.Section.EventsCount,
			nilIfZero(r.Section.RatingOverall), nilIfEmpty(r.Section.Strengths),
			nilIfEmpty(r.Section.Weaknesses), nilIfZero(r.Section.RatingMood),
			nilIfEmpty(r.Section.RejectAfterStage), reasonsJSON,
			nilIfEmpty(r.Section.RejectReasonOther), now)
		if err != nil {
			slog.Error("PostgresStore SaveReflections insert failed", "error", err, "userID", r.UserID, "stage", r.Section.Stage)
			return fmt.Errorf("failed to insert reflection for stage %s: %w", r.Section.Stage, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reflections: %w", err)
	}
	slog.Info("PostgresStore SaveReflections succeeded", "count", len(records), "userID", records[0].UserID)
	return nil
}

func (s *PostgresStore) GetReflectionHistory(userID string, limit int) ([]models.ReflectionRecord, error) {
	rows, err := s.db.Query(`SELECT id, user_id, funnel_type, channel_name, week_start, section_stage,
		events_count, rating_overall, strengths, weaknesses, rating_mood, reject_after_stage,
		reject_reasons_json, reject_reason_other, created_at
		FROM reflections WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		slog.Error("PostgresStore GetReflectionHistory query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query reflections: %w", err)
	}
	defer rows.Close()
	return collectReflections(rows)
}
