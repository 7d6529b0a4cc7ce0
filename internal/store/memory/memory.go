// Package memory is an in-process member.Store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"capitania.club/internal/backend"
	"capitania.club/internal/ids"
	"capitania.club/internal/member"
)

// Notifier receives a Change after every mutation.
type Notifier interface {
	Publish(backend.Change) int
}

// Store implements member.Store with in-process concurrency safety.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]member.Profile
	hashes   map[string]string
	checkins []member.Checkin
	notify   Notifier
	now      func() time.Time
}

var _ member.Store = (*Store)(nil)

// New creates an empty store. n may be nil.
func New(n Notifier) *Store {
	return &Store{
		profiles: make(map[string]member.Profile),
		hashes:   make(map[string]string),
		notify:   n,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) publish(table string, kind backend.ChangeKind, id string) {
	if s.notify != nil {
		s.notify.Publish(backend.Change{Table: table, Kind: kind, RecordID: id, At: s.now()})
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) GetProfile(_ context.Context, id string) (member.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return member.Profile{}, member.ErrNotFound
	}
	return p, nil
}

func (s *Store) find(match func(member.Profile) bool) (member.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if match(p) {
			return p, nil
		}
	}
	return member.Profile{}, member.ErrNotFound
}

func (s *Store) FindByEmail(_ context.Context, email string) (member.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.find(func(p member.Profile) bool { return p.Email == email })
}

func (s *Store) FindByCPF(_ context.Context, cpf string) (member.Profile, error) {
	cpf = member.NormalizeCPF(cpf)
	return s.find(func(p member.Profile) bool { return cpf != "" && p.CPF == cpf })
}

func (s *Store) ListProfiles(context.Context) ([]member.Profile, error) {
	s.mu.RLock()
	out := make([]member.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateProfile(_ context.Context, id string, upd member.Update) (member.Profile, error) {
	if err := upd.Normalize(); err != nil {
		return member.Profile{}, err
	}
	s.mu.Lock()
	p, ok := s.profiles[id]
	if !ok {
		s.mu.Unlock()
		return member.Profile{}, member.ErrNotFound
	}
	if upd.Empty() {
		s.mu.Unlock()
		return p, nil
	}
	if upd.FullName != nil {
		p.FullName = *upd.FullName
	}
	if upd.Role != nil {
		p.Role = *upd.Role
	}
	if upd.IsActive != nil {
		p.IsActive = *upd.IsActive
	}
	if upd.ForcePasswordChange != nil {
		p.ForcePasswordChange = *upd.ForcePasswordChange
	}
	p.UpdatedAt = s.now()
	s.profiles[id] = p
	s.mu.Unlock()

	s.publish(backend.TableProfiles, backend.ChangeUpdate, id)
	return p, nil
}

func (s *Store) DeleteProfile(_ context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.profiles[id]; !ok {
		s.mu.Unlock()
		return member.ErrNotFound
	}
	delete(s.profiles, id)
	s.mu.Unlock()

	s.publish(backend.TableProfiles, backend.ChangeDelete, id)
	return nil
}

func (s *Store) CreateMember(_ context.Context, m member.NewMember) (member.Profile, error) {
	if m.ID == "" {
		m.ID = ids.NewMemberID()
	}
	if m.Role == "" {
		m.Role = member.RoleSocio
	}
	cpf := member.NormalizeCPF(m.CPF)

	s.mu.Lock()
	for _, p := range s.profiles {
		if p.ID == m.ID || p.Email == m.Email || (cpf != "" && p.CPF == cpf) {
			s.mu.Unlock()
			return member.Profile{}, member.ErrConflict
		}
	}
	now := s.now()
	p := member.Profile{
		ID:                  m.ID,
		Email:               m.Email,
		FullName:            m.FullName,
		CPF:                 cpf,
		Role:                m.Role,
		IsActive:            m.IsActive,
		ForcePasswordChange: m.ForcePasswordChange,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.profiles[p.ID] = p
	s.hashes[p.ID] = m.PasswordHash
	s.mu.Unlock()

	s.publish(backend.TableProfiles, backend.ChangeInsert, p.ID)
	return p, nil
}

func (s *Store) PasswordHash(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hashes[id]
	if !ok {
		return "", member.ErrNotFound
	}
	return h, nil
}

func (s *Store) CompletePasswordChange(_ context.Context, id, hash string) (member.Profile, error) {
	s.mu.Lock()
	p, ok := s.profiles[id]
	if _, has := s.hashes[id]; !ok || !has {
		s.mu.Unlock()
		return member.Profile{}, member.ErrNotFound
	}
	s.hashes[id] = hash
	p.ForcePasswordChange = false
	p.UpdatedAt = s.now()
	s.profiles[id] = p
	s.mu.Unlock()

	s.publish(backend.TableProfiles, backend.ChangeUpdate, id)
	return p, nil
}

func (s *Store) CreateCheckin(_ context.Context, profileID string) (member.Checkin, error) {
	s.mu.Lock()
	if _, ok := s.profiles[profileID]; !ok {
		s.mu.Unlock()
		return member.Checkin{}, member.ErrNotFound
	}
	c := member.Checkin{ID: ids.New(), ProfileID: profileID, At: s.now()}
	s.checkins = append(s.checkins, c)
	s.mu.Unlock()

	s.publish(backend.TableCheckins, backend.ChangeInsert, c.ID)
	return c, nil
}

func (s *Store) ListCheckins(_ context.Context, profileID string, limit int) ([]member.Checkin, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []member.Checkin
	for i := len(s.checkins) - 1; i >= 0 && len(out) < limit; i-- {
		if s.checkins[i].ProfileID == profileID {
			out = append(out, s.checkins[i])
		}
	}
	return out, nil
}
