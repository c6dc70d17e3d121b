package store

import (
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/FunnelCoach/internal/models"
)

// weekKey identifies one week data row.
type weekKey struct {
	userID    string
	weekStart string
	channel   string
	funnel    models.FunnelType
}

// InMemoryStore is a Store implementation backed by maps, used in tests.
type InMemoryStore struct {
	mu           sync.RWMutex
	users        map[string]*models.User
	channels     map[string][]models.Channel
	weeks        map[weekKey]*models.WeekData
	profiles     map[string]*models.Profile
	reflections  []models.ReflectionRecord
	deletePolicy ChannelDeletePolicy
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	policy := cfg.DeletePolicy
	if policy == "" {
		policy = ChannelDeleteOrphan
	}
	return &InMemoryStore{
		users:        make(map[string]*models.User),
		channels:     make(map[string][]models.Channel),
		weeks:        make(map[weekKey]*models.WeekData),
		profiles:     make(map[string]*models.Profile),
		deletePolicy: policy,
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) EnsureUser(userID, username string) error {
	if userID == "" {
		return models.ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; ok {
		return nil
	}
	s.users[userID] = &models.User{
		ID:                userID,
		Username:          username,
		ActiveFunnel:      models.FunnelActive,
		ReminderFrequency: models.ReminderOff,
		ReminderTime:      "18:00",
		Timezone:          "UTC",
		CreatedAt:         time.Now().UTC(),
	}
	return nil
}

func (s *InMemoryStore) GetUser(userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *InMemoryStore) SetActiveFunnel(userID string, ft models.FunnelType) error {
	if !models.IsValidFunnelType(ft) {
		return models.ErrInvalidFunnelType
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.ActiveFunnel = ft
	}
	return nil
}

func (s *InMemoryStore) SetReminderSettings(userID string, freq models.ReminderFrequency, sendTime, timezone string) error {
	if err := models.ValidateReminderSettings(freq, sendTime, timezone); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	u.ReminderFrequency = freq
	if sendTime != "" {
		u.ReminderTime = sendTime
	}
	if timezone != "" {
		u.Timezone = timezone
	}
	return nil
}

func (s *InMemoryStore) ListUsersByReminderFrequency(freq models.ReminderFrequency) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.User
	for _, u := range s.users {
		if u.ReminderFrequency == freq {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) AddChannel(userID, name string) error {
	if err := models.ValidateChannelName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.channels[userID] {
		if c.Name == name {
			return models.ErrChannelExists
		}
	}
	s.channels[userID] = append(s.channels[userID], models.Channel{
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *InMemoryStore) RemoveChannel(userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.channels[userID]
	for i, c := range list {
		if c.Name == name {
			s.channels[userID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if s.deletePolicy == ChannelDeleteCascade {
		for k := range s.weeks {
			if k.userID == userID && k.channel == name {
				delete(s.weeks, k)
			}
		}
	}
	return nil
}

func (s *InMemoryStore) ListChannels(userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for _, c := range s.channels[userID] {
		names = append(names, c.Name)
	}
	return names, nil
}

func (s *InMemoryStore) AddWeekData(d models.WeekData) (models.StageCounts, models.StageCounts, error) {
	var zero models.StageCounts
	if err := d.Counts.Validate(); err != nil {
		return zero, zero, err
	}
	if err := models.ValidateWeekStart(d.WeekStart); err != nil {
		return zero, zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := weekKey{d.UserID, d.WeekStart, d.Channel, d.FunnelType}
	now := time.Now().UTC()
	existing, ok := s.weeks[k]
	if !ok {
		cp := d
		cp.CreatedAt = now
		cp.UpdatedAt = now
		s.weeks[k] = &cp
		return zero, d.Counts, nil
	}
	old := existing.Counts
	existing.Counts = old.Add(d.Counts)
	existing.UpdatedAt = now
	return old, existing.Counts, nil
}

func (s *InMemoryStore) GetWeekData(userID, weekStart, channel string, ft models.FunnelType) (*models.WeekData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.weeks[weekKey{userID, weekStart, channel, ft}]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *InMemoryStore) UpdateWeekSlot(userID, weekStart, channel string, ft models.FunnelType, slot, value int) error {
	if _, err := slotColumn(slot); err != nil {
		return err
	}
	if value < 0 {
		return models.ErrNegativeCount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.weeks[weekKey{userID, weekStart, channel, ft}]
	if !ok {
		return sql.ErrNoRows
	}
	if slot == -1 {
		d.Counts.Rejections = value
	} else {
		d.Counts.Stages[slot] = value
	}
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) GetUserHistory(userID string) ([]models.WeekData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.WeekData
	for k, d := range s.weeks {
		if k.userID == userID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WeekStart != out[j].WeekStart {
			return out[i].WeekStart > out[j].WeekStart
		}
		return out[i].Channel < out[j].Channel
	})
	return out, nil
}

func (s *InMemoryStore) SaveProfile(p models.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.profiles[p.UserID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := p
	s.profiles[p.UserID] = &cp
	if u, ok := s.users[p.UserID]; ok {
		u.ActiveFunnel = p.PreferredFunnel
	}
	return nil
}

func (s *InMemoryStore) GetProfile(userID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) DeleteProfile(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, userID)
	return nil
}

func (s *InMemoryStore) SaveReflections(records []models.ReflectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, r := range records {
		r.CreatedAt = now
		s.reflections = append(s.reflections, r)
	}
	return nil
}

func (s *InMemoryStore) GetReflectionHistory(userID string, limit int) ([]models.ReflectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ReflectionRecord
	for i := len(s.reflections) - 1; i >= 0 && len(out) < limit; i-- {
		if s.reflections[i].UserID == userID {
			out = append(out, s.reflections[i])
		}
	}
	return out, nil
}
