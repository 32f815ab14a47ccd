// Package messagetest provides an in-memory message.Repository for tests
// of the packages that sit on top of the message store.
//
// InSite serialises on a per-site mutex, which gives the same
// "no two scopes for one site interleave" guarantee as the SQL store's
// row lock.  There is no rollback: writes inside a failed scope stay.
package messagetest

import (
	"context"
	"sort"
	"sync"

	"github.com/yanizio/treehole/internal/message"
)

// Memory is a goroutine-safe Repository.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]message.Message

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

var _ message.Repository = (*Memory)(nil)

// New returns an empty store.
func New() *Memory {
	return &Memory{
		rows:  make(map[int64]message.Message),
		locks: make(map[int64]*sync.Mutex),
	}
}

// Add stores m as-is, assigning an ID when m.ID is zero.  Tests use it to
// seed rows with fixed timestamps.
func (s *Memory) Add(m message.Message) message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		s.nextID++
		m.ID = s.nextID
	} else if m.ID > s.nextID {
		s.nextID = m.ID
	}
	s.rows[m.ID] = m
	return m
}

// Len reports the number of stored messages across all sites.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *Memory) Find(_ context.Context, siteID int64, f message.Filter) ([]message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []message.Message
	for _, m := range s.rows {
		if matches(m, siteID, f) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if f.Order == message.NewestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if f.Order == message.NewestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(m message.Message, siteID int64, f message.Filter) bool {
	switch {
	case m.SiteID != siteID:
		return false
	case f.Closed != nil && m.Closed != *f.Closed:
		return false
	case f.Undecided && m.Approved != nil:
		return false
	case !f.Undecided && f.Approved != nil && (m.Approved == nil || *m.Approved != *f.Approved):
		return false
	case f.Identity != "" && m.Identity != f.Identity:
		return false
	case !f.After.IsZero() && !m.CreatedAt.After(f.After):
		return false
	case f.Live && (!m.Closed || (m.Approved != nil && !*m.Approved)):
		return false
	}
	return true
}

func (s *Memory) Get(_ context.Context, siteID, id int64) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.SiteID != siteID {
		return nil, message.ErrNotFound
	}
	return &m, nil
}

func (s *Memory) Save(_ context.Context, m *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		s.nextID++
		m.ID = s.nextID
		s.rows[m.ID] = *m
		return nil
	}
	old, ok := s.rows[m.ID]
	if !ok || old.SiteID != m.SiteID {
		return message.ErrNotFound
	}
	old.Closed = m.Closed
	old.Approved = m.Approved
	old.BackendID = m.BackendID
	old.BackendReceipt = m.BackendReceipt
	s.rows[m.ID] = old
	return nil
}

func (s *Memory) pending(m *message.Message) (message.Message, bool) {
	old, ok := s.rows[m.ID]
	if !ok || old.SiteID != m.SiteID || !old.Pending() || old.BackendID != nil {
		return message.Message{}, false
	}
	return old, true
}

func (s *Memory) Finalize(_ context.Context, m *message.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.pending(m)
	if !ok {
		return false, nil
	}
	old.Approved = message.BoolPtr(true)
	old.BackendID = m.BackendID
	old.BackendReceipt = m.BackendReceipt
	s.rows[m.ID] = old
	m.Closed = true
	m.Approved = old.Approved
	return true, nil
}

func (s *Memory) DeletePending(_ context.Context, m *message.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending(m); !ok {
		return false, nil
	}
	delete(s.rows, m.ID)
	return true, nil
}

func (s *Memory) CloseIfOpen(_ context.Context, siteID, id int64, approved bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.SiteID != siteID || m.Closed {
		return false, nil
	}
	m.Closed = true
	m.Approved = message.BoolPtr(approved)
	s.rows[id] = m
	return true, nil
}

func (s *Memory) Reopen(_ context.Context, m *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.rows[m.ID]; ok && old.SiteID == m.SiteID {
		old.Closed = false
		old.Approved = nil
		s.rows[m.ID] = old
	}
	m.Closed = false
	m.Approved = nil
	return nil
}

func (s *Memory) InSite(_ context.Context, siteID int64, fn func(message.Repository) error) error {
	l := s.siteLock(siteID)
	l.Lock()
	defer l.Unlock()
	return fn(scoped{s})
}

func (s *Memory) siteLock(siteID int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[siteID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[siteID] = l
	}
	return l
}

// scoped is the view handed to InSite callbacks; nested scopes run
// inline since the site lock is already held.
type scoped struct{ *Memory }

func (s scoped) InSite(_ context.Context, _ int64, fn func(message.Repository) error) error {
	return fn(s)
}
