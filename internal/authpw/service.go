// Package authpw provides email/password authentication over two auth
// collections kept in the document store, one per role class.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"formvault/api/internal/auth"
	"formvault/api/internal/docstore"
	"formvault/api/internal/rbac"
	"formvault/api/internal/session"
	"formvault/api/internal/util"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 8
	DefaultDataDir    = "backend/data"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInactive           = errors.New("account inactive")
	ErrUserExists         = errors.New("user already exists")
	ErrWrongPassword      = errors.New("current password incorrect")
	ErrUserNotFound       = errors.New("user not found")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrInvalidEmail       = errors.New("a valid email is required")
	ErrUnknownRole        = errors.New("unknown role class")
)

// collection locates the auth collection of a role class.
type collection struct {
	path string
	key  string
}

// Config configures a Service.
type Config struct {
	// DataDir holds users_auth.json and admins_auth.json.
	DataDir     string
	TokenSecret []byte
	TokenTTL    time.Duration
	// Revoker blocks logged-out tokens. Defaults to an in-memory revoker.
	Revoker    session.Revoker
	BcryptCost int
	Now        func() time.Time
	Logger     *slog.Logger
}

// Service implements login, registration and password changes.
type Service struct {
	store       *docstore.Client
	collections map[rbac.Role]collection
	tokenSecret []byte
	tokenTTL    time.Duration
	revoker     session.Revoker
	cost        int
	now         func() time.Time
	logger      *slog.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

func NewService(store *docstore.Client, cfg Config) *Service {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	s := &Service{
		store: store,
		collections: map[rbac.Role]collection{
			rbac.RoleUser:  {path: path.Join(dataDir, "users_auth.json"), key: "users"},
			rbac.RoleAdmin: {path: path.Join(dataDir, "admins_auth.json"), key: "admins"},
		},
		tokenSecret: cfg.TokenSecret,
		tokenTTL:    cfg.TokenTTL,
		revoker:     cfg.Revoker,
		cost:        cfg.BcryptCost,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = auth.DefaultTTL
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.revoker == nil {
		s.revoker = session.NewMemoryRevoker(s.now)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Session is the result of a successful login or registration.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      Identity  `json:"user"`
}

// Identity is the minimal projection returned with a token.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (s *Service) collectionFor(role string) (collection, rbac.Role, error) {
	if !rbac.Valid(role) {
		return collection{}, "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	r := rbac.Role(role)
	return s.collections[r], r, nil
}

// rolesFor returns the role classes to search: the named one, or all of
// them when role is empty.
func (s *Service) rolesFor(role string) ([]rbac.Role, error) {
	if role == "" {
		return []rbac.Role{rbac.RoleUser, rbac.RoleAdmin}, nil
	}
	if _, r, err := s.collectionFor(role); err != nil {
		return nil, err
	} else {
		return []rbac.Role{r}, nil
	}
}

// Login checks the credentials against the role's auth collection. A
// missing account and a wrong password produce the same error.
func (s *Service) Login(ctx context.Context, email, password, role string) (Session, error) {
	coll, r, err := s.collectionFor(role)
	if err != nil {
		return Session{}, err
	}
	users, _, _, err := s.store.ReadCollection(ctx, coll.path, coll.key)
	if err != nil {
		return Session{}, err
	}

	index := findByEmail(users, email)
	if index < 0 {
		// Spend the same bcrypt time as a real comparison.
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		return Session{}, ErrInvalidCredentials
	}
	record := recordFromEntry(users.Items[index])
	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if !record.IsActive {
		return Session{}, ErrInactive
	}

	s.logger.Info("authpw: login", "user_id", record.ID, "role", string(r))
	return s.issue(record, r)
}

// Register creates an active account in the role's auth collection and
// returns a session for it. Duplicate emails are rejected without writing.
func (s *Service) Register(ctx context.Context, email, password, name, role string) (Session, error) {
	coll, r, err := s.collectionFor(role)
	if err != nil {
		return Session{}, err
	}
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return Session{}, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return Session{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	record := Record{
		ID:           util.NewRecordID(now),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		Role:         string(r),
		IsActive:     true,
		CreatedAt:    now.UTC().Format(time.RFC3339),
	}
	_, err = s.store.ModifyCollection(ctx, coll.path, coll.key, func(users *docstore.Collection) error {
		if findByEmail(users, email) >= 0 {
			return ErrUserExists
		}
		users.Items = append(users.Items, record.entry())
		return nil
	}, fmt.Sprintf("Register %s %s", r, record.ID))
	if err != nil {
		return Session{}, err
	}

	s.logger.Info("authpw: registered", "user_id", record.ID, "role", string(r))
	return s.issue(record, r)
}

// ChangePassword replaces the password of userID after checking the
// current one. With an empty role every role class is searched.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, role string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.updateRecord(ctx, userID, role, "Change password", func(entry docstore.Entry) error {
		stored, _ := entry["passwordHash"].(string)
		if bcrypt.CompareHashAndPassword([]byte(stored), []byte(currentPassword)) != nil {
			return ErrWrongPassword
		}
		entry["passwordHash"] = string(hash)
		return nil
	})
}

// UpdateProfile changes the display name of userID.
func (s *Service) UpdateProfile(ctx context.Context, userID, name, role string) (*User, error) {
	err := s.updateRecord(ctx, userID, role, "Update profile", func(entry docstore.Entry) error {
		entry["name"] = strings.TrimSpace(name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, userID, role)
}

// SetActive activates or deactivates userID. Deactivated accounts cannot
// log in and their existing tokens stop authenticating.
func (s *Service) SetActive(ctx context.Context, userID string, active bool, role string) error {
	message := "Deactivate account"
	if active {
		message = "Activate account"
	}
	return s.updateRecord(ctx, userID, role, message, func(entry docstore.Entry) error {
		entry["isActive"] = active
		return nil
	})
}

// updateRecord applies fn to the record with userID in the first role
// collection that contains it, stamping updatedAt.
func (s *Service) updateRecord(ctx context.Context, userID, role, message string, fn func(docstore.Entry) error) error {
	roles, err := s.rolesFor(role)
	if err != nil {
		return err
	}
	for _, r := range roles {
		coll := s.collections[r]
		_, err := s.store.ModifyCollection(ctx, coll.path, coll.key, func(users *docstore.Collection) error {
			index := users.Find("id", userID)
			if index < 0 {
				return ErrUserNotFound
			}
			if err := fn(users.Items[index]); err != nil {
				return err
			}
			users.Items[index]["updatedAt"] = s.now().UTC().Format(time.RFC3339)
			return nil
		}, fmt.Sprintf("%s %s", message, userID))
		if errors.Is(err, ErrUserNotFound) {
			continue
		}
		return err
	}
	return ErrUserNotFound
}

// GetUserByID looks userID up without failing on a miss: it returns nil
// and no error when no such user exists.
func (s *Service) GetUserByID(ctx context.Context, userID, role string) (*User, error) {
	roles, err := s.rolesFor(role)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		coll := s.collections[r]
		users, _, _, err := s.store.ReadCollection(ctx, coll.path, coll.key)
		if err != nil {
			return nil, err
		}
		if index := users.Find("id", userID); index >= 0 {
			user := recordFromEntry(users.Items[index]).user()
			return &user, nil
		}
	}
	return nil, nil
}

// ListUsers returns every account of a role class.
func (s *Service) ListUsers(ctx context.Context, role string) ([]User, error) {
	coll, _, err := s.collectionFor(role)
	if err != nil {
		return nil, err
	}
	users, _, _, err := s.store.ReadCollection(ctx, coll.path, coll.key)
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(users.Items))
	for _, item := range users.Items {
		out = append(out, recordFromEntry(item).user())
	}
	return out, nil
}

// Verify performs the client-side check of a token: shape and expiry only.
func (s *Service) Verify(token string) (auth.Claims, error) {
	return auth.Inspect(token, s.now())
}

// SessionFromToken fully verifies token for a request: signature, expiry,
// revocation and that the account is still active.
func (s *Service) SessionFromToken(ctx context.Context, token string) (auth.Claims, error) {
	claims, err := auth.ParseTokenAt(s.tokenSecret, token, s.now())
	if err != nil {
		return auth.Claims{}, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, revocationKey(claims, token))
	if err != nil {
		return auth.Claims{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	user, err := s.GetUserByID(ctx, claims.ID, claims.Role)
	if err != nil {
		return auth.Claims{}, err
	}
	if user == nil {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	if !user.IsActive {
		return auth.Claims{}, ErrInactive
	}
	return claims, nil
}

// Logout revokes token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := auth.ParseTokenAt(s.tokenSecret, token, s.now())
	if err != nil {
		return err
	}
	return s.revoker.Revoke(ctx, revocationKey(claims, token), claims.ID, claims.ExpiresAt)
}

func revocationKey(claims auth.Claims, token string) string {
	if claims.TokenID != "" {
		return claims.TokenID
	}
	return auth.HashToken(token)
}

func (s *Service) issue(record Record, role rbac.Role) (Session, error) {
	token, claims, err := auth.IssueToken(s.tokenSecret, auth.Claims{
		ID:    record.ID,
		Email: record.Email,
		Role:  string(role),
	}, s.now(), s.tokenTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		ExpiresAt: claims.ExpiresAt,
		User:      Identity{ID: record.ID, Email: record.Email, Name: record.Name},
	}, nil
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("formvault-timing-equaliser"), s.cost)
	})
	return s.dummyHash
}

func findByEmail(users *docstore.Collection, email string) int {
	email = normalizeEmail(email)
	for i, item := range users.Items {
		stored, _ := item["email"].(string)
		if normalizeEmail(stored) == email {
			return i
		}
	}
	return -1
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
