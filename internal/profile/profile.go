// Package profile tracks the single logged-in identity and its theme.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/jarvis/internal/theme"
)

const (
	SubscriptionStandard = "Standard Clearance"
	SubscriptionPremium  = "Level 5 Clearance (Premium)"
)

var (
	ErrNotLoggedIn   = errors.New("not logged in")
	ErrEmptyUsername = errors.New("username is required")
	ErrUnknownTheme  = errors.New("unknown theme")
)

type User struct {
	Username       string     `json:"username"`
	Subscription   string     `json:"subscription"`
	JoinedAt       time.Time  `json:"joined_at"`
	PreferredTheme theme.Name `json:"preferred_theme"`
}

// Store keeps the record of who is logged in as one blob.
type Store interface {
	GetSessionRecord() ([]byte, error)
	PutSessionRecord(payload []byte) error
	DeleteSessionRecord() error
}

// Voice is the live session that must end before the user changes.
type Voice interface {
	Stop() error
}

type Observer interface {
	ProfileChanged(user *User)
}

type Manager struct {
	store    Store
	voice    Voice
	observer Observer
	now      func() time.Time

	mu   sync.Mutex
	user *User
}

type Option func(*Manager)

func WithVoice(v Voice) Option {
	return func(m *Manager) { m.voice = v }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager restores the stored record, if any.
func NewManager(store Store, opts ...Option) (*Manager, error) {
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}

	payload, err := store.GetSessionRecord()
	if err != nil {
		return nil, fmt.Errorf("load session record: %w", err)
	}
	if payload != nil {
		var u User
		if err := json.Unmarshal(payload, &u); err != nil {
			slog.Warn("discarding unreadable session record", "error", err)
			if err := store.DeleteSessionRecord(); err != nil {
				return nil, fmt.Errorf("delete session record: %w", err)
			}
		} else if strings.TrimSpace(u.Username) != "" {
			m.user = &u
		}
	}
	return m, nil
}

// SetVoice attaches the voice session after construction.
func (m *Manager) SetVoice(v Voice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voice = v
}

func (m *Manager) Login(username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}

	if prev := m.Identity(); prev != "" && !strings.EqualFold(prev, username) {
		m.stopVoice()
	}

	m.mu.Lock()
	u := &User{
		Username:       username,
		Subscription:   SubscriptionStandard,
		JoinedAt:       m.now(),
		PreferredTheme: theme.Default().Name,
	}
	if strings.EqualFold(username, "tony stark") {
		u.Subscription = SubscriptionPremium
	}
	if m.user != nil && strings.EqualFold(m.user.Username, username) {
		u.JoinedAt = m.user.JoinedAt
		u.PreferredTheme = m.user.PreferredTheme
	}
	if err := m.saveLocked(u); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.user = u
	out := *u
	m.mu.Unlock()

	slog.Info("user logged in", "username", username)
	m.notify(&out)
	return &out, nil
}

// Logout ends any voice session before forgetting the user.
func (m *Manager) Logout() error {
	if m.Current() == nil {
		return ErrNotLoggedIn
	}
	// The voice session flushes its transcript to the current identity.
	m.stopVoice()

	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return ErrNotLoggedIn
	}
	if err := m.store.DeleteSessionRecord(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("logout: %w", err)
	}
	name := m.user.Username
	m.user = nil
	m.mu.Unlock()

	slog.Info("user logged out", "username", name)
	m.notify(nil)
	return nil
}

func (m *Manager) SetTheme(name string) (*User, error) {
	th, ok := theme.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTheme, name)
	}

	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return nil, ErrNotLoggedIn
	}
	u := *m.user
	u.PreferredTheme = th.Name
	if err := m.saveLocked(&u); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.user = &u
	m.mu.Unlock()

	m.notify(&u)
	return &u, nil
}

// Current returns a copy of the logged-in user, or nil.
func (m *Manager) Current() *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// Identity is the transcript key of the logged-in user, or "".
func (m *Manager) Identity() string {
	if u := m.Current(); u != nil {
		return u.Username
	}
	return ""
}

// Theme is the active palette, the default when nobody is logged in.
func (m *Manager) Theme() theme.Theme {
	if u := m.Current(); u != nil {
		return theme.Resolve(u.PreferredTheme)
	}
	return theme.Default()
}

func (m *Manager) saveLocked(u *User) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	if err := m.store.PutSessionRecord(payload); err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

func (m *Manager) stopVoice() {
	m.mu.Lock()
	voice := m.voice
	m.mu.Unlock()
	if voice == nil {
		return
	}
	if err := voice.Stop(); err != nil {
		slog.Warn("stop voice session", "error", err)
	}
}

func (m *Manager) notify(u *User) {
	if m.observer != nil {
		m.observer.ProfileChanged(u)
	}
}
