package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/iliyamo/meetup-schedule/internal/model"
)

// MemoryStore is an in-process ScheduleStore and ParticipantStore.  It backs
// STORAGE_DRIVER=memory and the unit tests.  Values are copied on the way in
// and out so callers never share voter sets with the store.
type MemoryStore struct {
	mu sync.RWMutex

	schedules    map[string]model.Schedule
	participants map[string]map[string]model.Participant
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schedules:    make(map[string]model.Schedule),
		participants: make(map[string]map[string]model.Participant),
	}
}

// PutParticipant seeds or replaces a membership record.
func (m *MemoryStore) PutParticipant(p model.Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser, ok := m.participants[p.MeetupID]
	if !ok {
		byUser = make(map[string]model.Participant)
		m.participants[p.MeetupID] = byUser
	}
	byUser[p.UserID] = p
}

func (m *MemoryStore) Create(_ context.Context, s model.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.schedules[s.ID]; exists {
		return ErrScheduleAlreadyExists
	}
	s = s.Clone()
	if s.Voters == nil {
		s.Voters = model.NewVoterSet()
	}
	m.schedules[s.ID] = s
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (model.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok || s.Deleted() {
		return model.Schedule{}, ErrScheduleNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s model.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[s.ID]; !ok {
		return ErrScheduleNotFound
	}
	m.schedules[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) ListByMeetup(_ context.Context, meetupID string) ([]model.Schedule, error) {
	return m.filter(func(s model.Schedule) bool { return s.MeetupID == meetupID }, func(a, b model.Schedule) bool {
		if a.ProposedAt.Equal(b.ProposedAt) {
			return a.ID < b.ID
		}
		return a.ProposedAt.Before(b.ProposedAt)
	}), nil
}

func (m *MemoryStore) ListPendingWithDeadline(_ context.Context) ([]model.Schedule, error) {
	return m.filter(model.Schedule.HasPendingDeadline, func(a, b model.Schedule) bool {
		if a.VotingDeadline.Equal(*b.VotingDeadline) {
			return a.ID < b.ID
		}
		return a.VotingDeadline.Before(*b.VotingDeadline)
	}), nil
}

func (m *MemoryStore) filter(keep func(model.Schedule) bool, less func(a, b model.Schedule) bool) []model.Schedule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Schedule, 0)
	for _, s := range m.schedules {
		if s.Deleted() || !keep(s) {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (m *MemoryStore) GetParticipant(_ context.Context, meetupID, userID string) (model.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[meetupID][userID]
	if !ok {
		return model.Participant{}, ErrParticipantNotFound
	}
	return p, nil
}

func (m *MemoryStore) ListApproved(_ context.Context, meetupID string) ([]model.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Participant, 0)
	for _, p := range m.participants[meetupID] {
		if p.Approved() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

var (
	_ ScheduleStore    = (*MemoryStore)(nil)
	_ ParticipantStore = (*MemoryStore)(nil)
	_ ScheduleStore    = (*ScheduleRepo)(nil)
	_ ParticipantStore = (*ParticipantRepo)(nil)
)
