package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/FunnelCoach/internal/models"
)

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty converts empty strings to nil so optional TEXT columns store
// NULL rather than "".
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZero converts zero ints to nil for optional INTEGER columns.
func nilIfZero(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var username sql.NullString
	var funnel, freq string
	if err := row.Scan(&u.ID, &username, &funnel, &freq, &u.ReminderTime, &u.Timezone, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Username = username.String
	u.ActiveFunnel = models.FunnelType(funnel)
	u.ReminderFrequency = models.ReminderFrequency(freq)
	return &u, nil
}

func collectUsers(rows *sql.Rows) ([]models.User, error) {
	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func scanWeekData(row rowScanner) (*models.WeekData, error) {
	var d models.WeekData
	var funnel string
	if err := row.Scan(&d.UserID, &d.WeekStart, &d.Channel, &funnel,
		&d.Counts.Stages[0], &d.Counts.Stages[1], &d.Counts.Stages[2],
		&d.Counts.Stages[3], &d.Counts.Stages[4], &d.Counts.Rejections,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.FunnelType = models.FunnelType(funnel)
	return &d, nil
}

func collectWeekData(rows *sql.Rows) ([]models.WeekData, error) {
	var out []models.WeekData
	for rows.Next() {
		d, err := scanWeekData(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan week data row: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// encodedProfile holds the profile list fields serialized for storage.
type encodedProfile struct {
	roleSynonyms interface{}
	salary       interface{}
	industries   interface{}
	competencies interface{}
}

func encodeProfileJSON(p models.Profile) (encodedProfile, error) {
	var enc encodedProfile
	var err error
	if enc.roleSynonyms, err = encodeStringList(p.RoleSynonyms); err != nil {
		return enc, err
	}
	if p.Salary != nil {
		b, err := json.Marshal(p.Salary)
		if err != nil {
			return enc, fmt.Errorf("failed to marshal salary range: %w", err)
		}
		enc.salary = string(b)
	}
	if enc.industries, err = encodeStringList(p.Industries); err != nil {
		return enc, err
	}
	if enc.competencies, err = encodeStringList(p.Competencies); err != nil {
		return enc, err
	}
	return enc, nil
}

// encodeStringList marshals a list to JSON, or nil when the list is empty.
func encodeStringList(list []string) (interface{}, error) {
	if len(list) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(b), nil
}

func decodeStringList(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw.String), &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal string list: %w", err)
	}
	return list, nil
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var p models.Profile
	var funnel string
	var roleSyn, salary, industries, competencies, constraints sql.NullString
	if err := row.Scan(&p.UserID, &p.Role, &p.CurrentLocation, &p.TargetLocation, &p.Level,
		&p.DeadlineWeeks, &p.TargetEndDate, &funnel, &roleSyn, &salary,
		&industries, &competencies, &constraints, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.PreferredFunnel = models.FunnelType(funnel)
	p.Constraints = constraints.String

	var err error
	if p.RoleSynonyms, err = decodeStringList(roleSyn); err != nil {
		return nil, err
	}
	if p.Industries, err = decodeStringList(industries); err != nil {
		return nil, err
	}
	if p.Competencies, err = decodeStringList(competencies); err != nil {
		return nil, err
	}
	if salary.Valid && salary.String != "" {
		var sr models.SalaryRange
		if err := json.Unmarshal([]byte(salary.String), &sr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal salary range: %w", err)
		}
		p.Salary = &sr
	}
	return &p, nil
}

func scanReflection(row rowScanner) (*models.ReflectionRecord, error) {
	var r models.ReflectionRecord
	var funnel string
	var ratingOverall, ratingMood sql.NullInt64
	var strengths, weaknesses, rejectAfter, reasonsJSON, reasonOther sql.NullString
	if err := row.Scan(&r.ID, &r.UserID, &funnel, &r.Channel, &r.WeekStart,
		&r.Section.Stage, &r.Section.EventsCount, &ratingOverall, &strengths,
		&weaknesses, &ratingMood, &rejectAfter, &reasonsJSON, &reasonOther,
		&r.CreatedAt); err != nil {
		return nil, err
	}
	r.FunnelType = models.FunnelType(funnel)
	r.Section.RatingOverall = int(ratingOverall.Int64)
	r.Section.Strengths = strengths.String
	r.Section.Weaknesses = weaknesses.String
	r.Section.RatingMood = int(ratingMood.Int64)
	r.Section.RejectAfterStage = rejectAfter.String
	r.Section.RejectReasonOther = reasonOther.String

	reasons, err := decodeStringList(reasonsJSON)
	if err != nil {
		return nil, err
	}
	r.Section.RejectReasons = reasons
	return &r, nil
}

func collectReflections(rows *sql.Rows) ([]models.ReflectionRecord, error) {
	var out []models.ReflectionRecord
	for rows.Next() {
		r, err := scanReflection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reflection row: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
