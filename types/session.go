package types

import (
	"context"
	"time"
)

type Session struct {
	ID        string                 `json:"id"`
	Values    map[string]interface{} `json:"values"`
	CSRFToken string                 `json:"csrf_token,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	ExpiresAt time.Time              `json:"expires_at"`

	isNew bool
	dirty bool
}

func NewSession(id string, ttl time.Duration) *Session {
	now := time.Now()
	s := &Session{
		ID:        id,
		Values:    make(map[string]interface{}),
		CreatedAt: now,
		isNew:     true,
	}
	if ttl > 0 {
		s.ExpiresAt = now.Add(ttl)
	}
	return s
}

func (s *Session) Get(key string) (interface{}, bool) {
	v, ok := s.Values[key]
	return v, ok
}

func (s *Session) Set(key string, value interface{}) {
	if s.Values == nil {
		s.Values = make(map[string]interface{})
	}
	s.Values[key] = value
	s.dirty = true
}

func (s *Session) Delete(key string) {
	if _, ok := s.Values[key]; ok {
		delete(s.Values, key)
		s.dirty = true
	}
}

func (s *Session) SetCSRFToken(token string) {
	s.CSRFToken = token
	s.dirty = true
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

func (s *Session) IsNew() bool   { return s.isNew }
func (s *Session) IsDirty() bool { return s.dirty }

func (s *Session) MarkSaved() {
	s.isNew = false
	s.dirty = false
}

type SessionStore interface {
	LifecycleManager
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, session *Session, ttl time.Duration) error
	Destroy(ctx context.Context, id string) error
}
