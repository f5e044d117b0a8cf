package authpw

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"formvault/api/internal/auth"
	"formvault/api/internal/docstore"

	"golang.org/x/crypto/bcrypt"
)

var testNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

// writeCountingHost records how many puts reach the memory host.
type writeCountingHost struct {
	*docstore.MemoryHost
	mu   sync.Mutex
	puts int
}

func (h *writeCountingHost) PutFile(ctx context.Context, p string, req docstore.PutRequest) (docstore.Token, error) {
	h.mu.Lock()
	h.puts++
	h.mu.Unlock()
	return h.MemoryHost.PutFile(ctx, p, req)
}

func (h *writeCountingHost) putCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.puts
}

func newTestService(t *testing.T) (*Service, *writeCountingHost) {
	t.Helper()
	host := &writeCountingHost{MemoryHost: docstore.NewMemoryHost()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := docstore.NewClient(host, docstore.Options{
		RetryDelay: time.Millisecond,
		Now:        func() time.Time { return testNow },
		Logger:     logger,
	})
	svc := NewService(store, Config{
		DataDir:     "data",
		TokenSecret: []byte("test-secret"),
		BcryptCost:  bcrypt.MinCost,
		Now:         func() time.Time { return time.Now() },
		Logger:      logger,
	})
	return svc, host
}

func register(t *testing.T, svc *Service, email, role string) Session {
	t.Helper()
	session, err := svc.Register(context.Background(), email, "correct horse", "Avery", role)
	if err != nil {
		t.Fatalf("Register(%s) error = %v", email, err)
	}
	return session
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	registered := register(t, svc, "Avery@Example.com ", "user")
	if registered.User.Email != "avery@example.com" {
		t.Fatalf("expected normalised email, got %q", registered.User.Email)
	}
	if parts := strings.SplitN(registered.User.ID, "-", 2); len(parts) != 2 || parts[1] == "" {
		t.Fatalf("unexpected id shape %q", registered.User.ID)
	}

	session, err := svc.Login(ctx, "avery@example.com", "correct horse", "user")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.User.ID != registered.User.ID || session.Token == "" {
		t.Fatalf("unexpected session: %+v", session)
	}
	claims, err := auth.ParseToken([]byte("test-secret"), session.Token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Role != "user" || claims.Email != "avery@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	// The record lives in the users collection under the "users" key.
	snapshot, found, err := svc.store.Read(ctx, "data/users_auth.json")
	if err != nil || !found {
		t.Fatalf("Read(users_auth.json) found=%v err=%v", found, err)
	}
	if !strings.Contains(string(snapshot.Content), `"users"`) || strings.Contains(string(snapshot.Content), "correct horse") {
		t.Fatalf("unexpected stored users document:\n%s", snapshot.Content)
	}
	if _, found, _ := svc.store.Read(ctx, "data/admins_auth.json"); found {
		t.Fatal("registering a user must not create the admins collection")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	register(t, svc, "avery@example.com", "user")

	tests := []struct {
		name     string
		email    string
		password string
		role     string
	}{
		{name: "unknown email", email: "nobody@example.com", password: "correct horse", role: "user"},
		{name: "wrong password", email: "avery@example.com", password: "wrong horse", role: "user"},
		{name: "other role class", email: "avery@example.com", password: "correct horse", role: "admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.email, tt.password, tt.role)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
			}
			if err.Error() != "invalid email or password" {
				t.Fatalf("unexpected message %q", err.Error())
			}
		})
	}
}

func TestRegisterDuplicateDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	svc, host := newTestService(t)
	register(t, svc, "avery@example.com", "admin")
	before := host.putCount()

	_, err := svc.Register(ctx, "AVERY@example.com", "another password", "Dup", "admin")
	if !errors.Is(err, ErrUserExists) || err.Error() != "user already exists" {
		t.Fatalf("Register() duplicate error = %v", err)
	}
	if host.putCount() != before {
		t.Fatalf("duplicate registration wrote %d times", host.putCount()-before)
	}

	// The same email may exist independently in the other role class.
	if _, err := svc.Register(ctx, "avery@example.com", "correct horse", "Avery", "user"); err != nil {
		t.Fatalf("Register() in user class error = %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc, host := newTestService(t)

	if _, err := svc.Register(ctx, "avery@example.com", "short", "", "user"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("short password error = %v", err)
	}
	if _, err := svc.Register(ctx, "not-an-email", "correct horse", "", "user"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("bad email error = %v", err)
	}
	if _, err := svc.Register(ctx, "avery@example.com", "correct horse", "", "owner"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("bad role error = %v", err)
	}
	if host.putCount() != 0 {
		t.Fatalf("rejected registrations wrote %d times", host.putCount())
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, host := newTestService(t)
	session := register(t, svc, "avery@example.com", "admin")

	before := host.putCount()
	err := svc.ChangePassword(ctx, session.User.ID, "wrong horse", "battery staple", "admin")
	if !errors.Is(err, ErrWrongPassword) || err.Error() != "current password incorrect" {
		t.Fatalf("ChangePassword() with wrong current error = %v", err)
	}
	if host.putCount() != before {
		t.Fatal("rejected password change wrote to the store")
	}

	// An empty role searches every class.
	if err := svc.ChangePassword(ctx, session.User.ID, "correct horse", "battery staple", ""); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, err := svc.Login(ctx, "avery@example.com", "correct horse", "admin"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, err := svc.Login(ctx, "avery@example.com", "battery staple", "admin"); err != nil {
		t.Fatalf("Login() with new password error = %v", err)
	}

	err = svc.ChangePassword(ctx, "missing", "correct horse", "battery staple", "")
	if !errors.Is(err, ErrUserNotFound) || err.Error() != "user not found" {
		t.Fatalf("ChangePassword() for missing user error = %v", err)
	}
}

func TestGetUserByIDMissIsNil(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	session := register(t, svc, "avery@example.com", "user")

	user, err := svc.GetUserByID(ctx, session.User.ID, "")
	if err != nil || user == nil {
		t.Fatalf("GetUserByID() = %v, %v", user, err)
	}
	if user.Role != "user" || !user.IsActive {
		t.Fatalf("unexpected user: %+v", user)
	}

	user, err = svc.GetUserByID(ctx, "nope", "user")
	if err != nil || user != nil {
		t.Fatalf("GetUserByID(missing) = %v, %v; want nil, nil", user, err)
	}
}

func TestDeactivatedAccount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	session := register(t, svc, "avery@example.com", "user")

	if _, err := svc.SessionFromToken(ctx, session.Token); err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if err := svc.SetActive(ctx, session.User.ID, false, "user"); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}

	_, err := svc.Login(ctx, "avery@example.com", "correct horse", "user")
	if !errors.Is(err, ErrInactive) || err.Error() != "account inactive" {
		t.Fatalf("Login() for inactive account error = %v", err)
	}
	// An inactive account with the wrong password still reports bad credentials.
	if _, err := svc.Login(ctx, "avery@example.com", "wrong horse", "user"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login() inactive+wrong error = %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, session.Token); !errors.Is(err, ErrInactive) {
		t.Fatalf("SessionFromToken() for inactive account error = %v", err)
	}
}

func TestUpdateProfilePreservesUnknownFields(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	session := register(t, svc, "avery@example.com", "user")

	_, err := svc.store.ModifyCollection(ctx, "data/users_auth.json", "users", func(users *docstore.Collection) error {
		users.Items[0]["locale"] = "en-GB"
		return nil
	}, "seed extra field")
	if err != nil {
		t.Fatalf("ModifyCollection() error = %v", err)
	}

	user, err := svc.UpdateProfile(ctx, session.User.ID, "  Avery Quinn ", "user")
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if user.Name != "Avery Quinn" || user.UpdatedAt == "" {
		t.Fatalf("unexpected user after update: %+v", user)
	}
	users, _, _, err := svc.store.ReadCollection(ctx, "data/users_auth.json", "users")
	if err != nil {
		t.Fatalf("ReadCollection() error = %v", err)
	}
	if users.Items[0]["locale"] != "en-GB" {
		t.Fatalf("unknown field lost: %+v", users.Items[0])
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	session := register(t, svc, "avery@example.com", "user")

	if err := svc.Logout(ctx, session.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, session.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("SessionFromToken() after logout error = %v", err)
	}
	// Client-side verification does not consult the revocation list.
	if _, err := svc.Verify(session.Token); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if err := svc.Logout(ctx, "garbage"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("Logout(garbage) error = %v", err)
	}
}

func TestSessionExpiryFollowsServiceClock(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	now := testNow
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := docstore.NewClient(docstore.NewMemoryHost(), docstore.Options{Now: clock, Logger: logger})
	svc := NewService(store, Config{
		DataDir:     "data",
		TokenSecret: []byte("test-secret"),
		TokenTTL:    time.Hour,
		BcryptCost:  bcrypt.MinCost,
		Now:         clock,
		Logger:      logger,
	})
	session := register(t, svc, "avery@example.com", "user")

	advance(30 * time.Minute)
	if _, err := svc.SessionFromToken(ctx, session.Token); err != nil {
		t.Fatalf("SessionFromToken() within ttl error = %v", err)
	}

	advance(time.Hour)
	if _, err := svc.SessionFromToken(ctx, session.Token); !errors.Is(err, auth.ErrExpiredToken) {
		t.Fatalf("SessionFromToken() after ttl error = %v, want ErrExpiredToken", err)
	}
	if err := svc.Logout(ctx, session.Token); !errors.Is(err, auth.ErrExpiredToken) {
		t.Fatalf("Logout() after ttl error = %v, want ErrExpiredToken", err)
	}
}
