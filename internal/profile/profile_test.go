package profile

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/jarvis/internal/theme"
)

type recordStore struct {
	mu      sync.Mutex
	payload []byte
	deletes int
}

func (s *recordStore) GetSessionRecord() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload, nil
}

func (s *recordStore) PutSessionRecord(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = append([]byte(nil), payload...)
	return nil
}

func (s *recordStore) DeleteSessionRecord() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = nil
	s.deletes++
	return nil
}

// voiceStub reads the identity while stopping, the way a voice session
// flushes its transcript on shutdown.
type voiceStub struct {
	m        *Manager
	stops    int
	seenUser string
}

func (v *voiceStub) Stop() error {
	v.stops++
	v.seenUser = v.m.Identity()
	return nil
}

type profileRecorder struct {
	users []*User
}

func (r *profileRecorder) ProfileChanged(u *User) {
	r.users = append(r.users, u)
}

func newTestManager(t *testing.T, store *recordStore, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(store, opts...)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return m
}

func TestLoginPersistsRecord(t *testing.T) {
	store := &recordStore{}
	obs := &profileRecorder{}
	m := newTestManager(t, store, WithObserver(obs))

	u, err := m.Login("  Tony Stark ")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if u.Username != "Tony Stark" || u.Subscription != SubscriptionPremium || u.PreferredTheme != theme.MK85 {
		t.Fatalf("unexpected user %+v", u)
	}
	if store.payload == nil {
		t.Fatal("expected session record to be stored")
	}
	if len(obs.users) != 1 || obs.users[0].Username != "Tony Stark" {
		t.Fatalf("unexpected notifications %+v", obs.users)
	}

	restored := newTestManager(t, store)
	if got := restored.Identity(); got != "Tony Stark" {
		t.Fatalf("expected restored identity, got %q", got)
	}
}

func TestLoginRejectsBlankUsername(t *testing.T) {
	m := newTestManager(t, &recordStore{})
	if _, err := m.Login("   "); !errors.Is(err, ErrEmptyUsername) {
		t.Fatalf("expected ErrEmptyUsername, got %v", err)
	}
}

func TestLogoutStopsVoiceFirst(t *testing.T) {
	store := &recordStore{}
	m := newTestManager(t, store)
	voice := &voiceStub{m: m}
	m.SetVoice(voice)

	_, _ = m.Login("pepper")
	if err := m.Logout(); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if voice.stops != 1 {
		t.Fatalf("expected voice stopped once, got %d", voice.stops)
	}
	if voice.seenUser != "pepper" {
		t.Fatalf("voice should stop while the user is still current, saw %q", voice.seenUser)
	}
	if m.Current() != nil || store.payload != nil {
		t.Fatal("expected user and record cleared")
	}
	if err := m.Logout(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestSwitchingUserStopsVoice(t *testing.T) {
	m := newTestManager(t, &recordStore{})
	voice := &voiceStub{m: m}
	m.SetVoice(voice)

	_, _ = m.Login("pepper")
	_, _ = m.Login("pepper")
	if voice.stops != 0 {
		t.Fatalf("re-login as the same user should keep voice, got %d stops", voice.stops)
	}
	_, _ = m.Login("rhodey")
	if voice.stops != 1 || voice.seenUser != "pepper" {
		t.Fatalf("expected voice stopped for pepper, got stops=%d seen=%q", voice.stops, voice.seenUser)
	}
}

func TestSetTheme(t *testing.T) {
	store := &recordStore{}
	m := newTestManager(t, store)

	if _, err := m.SetTheme("MK_5"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if m.Theme().Name != theme.MK85 {
		t.Fatal("expected default theme when logged out")
	}

	_, _ = m.Login("pepper")
	if _, err := m.SetTheme("MK_42"); !errors.Is(err, ErrUnknownTheme) {
		t.Fatalf("expected ErrUnknownTheme, got %v", err)
	}
	u, err := m.SetTheme("mk_50")
	if err != nil {
		t.Fatalf("SetTheme failed: %v", err)
	}
	if u.PreferredTheme != theme.MK50 || m.Theme().Name != theme.MK50 {
		t.Fatalf("unexpected theme %s", u.PreferredTheme)
	}

	restored := newTestManager(t, store)
	if restored.Theme().Name != theme.MK50 {
		t.Fatal("expected theme to survive restore")
	}

	_, _ = m.Login("pepper")
	if m.Theme().Name != theme.MK50 {
		t.Fatal("re-login should keep the preferred theme")
	}
}

func TestCorruptRecordDiscarded(t *testing.T) {
	store := &recordStore{payload: []byte("{not json")}
	m := newTestManager(t, store)
	if m.Current() != nil {
		t.Fatal("expected no user from corrupt record")
	}
	if store.deletes != 1 {
		t.Fatalf("expected corrupt record deleted, got %d deletes", store.deletes)
	}
}
