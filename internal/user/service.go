package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/notification"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", b.cost()), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash reports whether hash was produced with a different cost.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	c, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return c != b.cost()
}

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrLocked            = errors.New("user locked")
	ErrDisabled          = errors.New("user disabled")
	ErrBadCredentials    = errors.New("invalid credentials")
	ErrMustResetPassword = errors.New("must reset password")
	ErrDuplicate         = errors.New("username or email already registered")
	ErrInvalidInput      = errors.New("invalid input")
)

const (
	minPasswordLen = 8
	maxBorrowLimit = 50
)

// UserService orchestrates authentication and user lifecycle flows.
type UserService struct {
	store  Store
	hasher PasswordHasher
	events Publisher
	logger *zap.SugaredLogger

	// configuration knobs
	MaxFailed   int
	LockMinutes int
	Clock       func() time.Time
}

func NewUserService(store Store, hasher PasswordHasher, events Publisher, logger *zap.SugaredLogger) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &UserService{
		store:       store,
		hasher:      hasher,
		events:      events,
		logger:      logger,
		MaxFailed:   6,
		LockMinutes: 15,
		Clock:       func() time.Time { return time.Now().UTC() },
	}
}

// SignupInput is a new account. Username or email is required.
type SignupInput struct {
	Username    string
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber string
	UserType    string
	// AllowAdmin permits creating admin accounts; public signup leaves it false.
	AllowAdmin bool
}

// Signup creates a user with password (hashing inside) and announces it.
func (s *UserService) Signup(ctx context.Context, in SignupInput) (*entity.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if username == "" && email == "" {
		return nil, fmt.Errorf("%w: username or email required", ErrInvalidInput)
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
		}
	}
	if len(in.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	userType := in.UserType
	if userType == "" {
		userType = entity.TypeStudent
	}
	if !entity.ValidType(userType) || (userType == entity.TypeAdmin && !in.AllowAdmin) {
		return nil, fmt.Errorf("%w: unsupported user type %q", ErrInvalidInput, userType)
	}

	hash, algo, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := &entity.User{
		Username:        optional(username),
		Email:           optional(email),
		FirstName:       strings.TrimSpace(in.FirstName),
		LastName:        strings.TrimSpace(in.LastName),
		PhoneNumber:     optional(strings.TrimSpace(in.PhoneNumber)),
		PasswordHash:    &hash,
		PasswordAlgo:    &algo,
		Status:          entity.StatusActive,
		UserType:        userType,
		MaxBooksAllowed: entity.DefaultLimit(userType),
		Version:         1,
	}
	id, err := s.store.Create(ctx, u)
	if err != nil {
		if database.IsUniqueViolation(err, "") {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	u.ID = id
	s.logger.Infow("user registered", "user_id", id, "user_type", userType)
	s.publish(ctx, event.UserRegistered, id)
	return u, nil
}

// AuthenticatePassword performs password authentication by email or username.
// On success resets counters and returns the user minimal auth view.
func (s *UserService) AuthenticatePassword(ctx context.Context, identifier, password string) (*entity.MinimalAuthView, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrBadCredentials
	}

	var u *entity.User
	var err error
	if strings.Contains(identifier, "@") {
		u, err = s.store.GetByEmail(ctx, strings.ToLower(identifier))
	} else {
		u, err = s.store.GetByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBadCredentials
		} // avoid user enumeration
		return nil, err
	}

	now := s.Clock()
	if u.Status == entity.StatusLocked && u.LockedUntil != nil && u.LockedUntil.Before(now) {
		if unlocked, _ := s.store.UnlockIfExpired(ctx, u.ID, now); unlocked {
			u.Status = entity.StatusActive
			u.LockedUntil = nil
		}
	}

	switch u.Status {
	case entity.StatusLocked:
		return nil, ErrLocked
	case entity.StatusDisabled:
		return nil, ErrDisabled
	}
	if u.PasswordHash == nil || *u.PasswordHash == "" {
		return nil, ErrBadCredentials
	}

	if !s.hasher.Verify(*u.PasswordHash, password) {
		if _, incErr := s.store.IncrementFailedLogin(ctx, u.ID); incErr == nil {
			until := now.Add(time.Duration(s.LockMinutes) * time.Minute)
			if locked, _ := s.store.LockIfThreshold(ctx, u.ID, s.MaxFailed, until); locked {
				s.logger.Warnw("user locked after failed logins", "user_id", u.ID, "until", until)
			}
		}
		return nil, ErrBadCredentials
	}

	if err := s.store.ResetLoginSuccess(ctx, u.ID, now); err != nil {
		return nil, err
	}
	if u.MustResetPassword {
		return nil, ErrMustResetPassword
	}

	view, err := s.store.GetMinimalAuthView(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	if s.hasher.NeedsRehash(*u.PasswordHash) {
		if newHash, algo, hErr := s.hasher.Hash(password); hErr == nil {
			_ = s.store.UpdatePassword(ctx, u.ID, newHash, algo, false)
		}
	}
	s.publish(ctx, event.UserLoggedIn, u.ID)
	return view, nil
}

// ChangePassword replaces the password after checking the current one.
// The version bump invalidates outstanding tokens.
func (s *UserService) ChangePassword(ctx context.Context, id int64, current, next string) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if u.PasswordHash == nil || !s.hasher.Verify(*u.PasswordHash, current) {
		return ErrBadCredentials
	}
	if len(next) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	hash, algo, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	return s.store.UpdatePassword(ctx, id, hash, algo, true)
}

// Get returns the full user row.
func (s *UserService) Get(ctx context.Context, id int64) (*entity.User, error) {
	u, err := s.store.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// ProfileInput carries optional profile changes.
type ProfileInput struct {
	FirstName   *string
	LastName    *string
	PhoneNumber *string
}

func (s *UserService) UpdateProfile(ctx context.Context, id int64, in ProfileInput) (*entity.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.FirstName != nil {
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		u.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.PhoneNumber != nil {
		u.PhoneNumber = optional(strings.TrimSpace(*in.PhoneNumber))
	}
	if err := s.store.UpdateProfile(ctx, u); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return u, nil
}

// ResetBorrowingLimit restores the default limit for the user's type.
func (s *UserService) ResetBorrowingLimit(ctx context.Context, id int64) (int, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	limit := entity.DefaultLimit(u.UserType)
	if err := s.store.SetBorrowingLimit(ctx, id, limit); err != nil {
		return 0, err
	}
	return limit, nil
}

func (s *UserService) SetBorrowingLimit(ctx context.Context, id int64, limit int) error {
	if limit < 1 || limit > maxBorrowLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidInput, maxBorrowLimit)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.store.SetBorrowingLimit(ctx, id, limit)
}

// Deactivate disables the account and invalidates its tokens.
func (s *UserService) Deactivate(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.Deactivate(ctx, id); err != nil {
		return err
	}
	return s.store.BumpVersion(ctx, id)
}

func (s *UserService) Reactivate(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.store.Reactivate(ctx, id)
}

func (s *UserService) List(ctx context.Context, f ListFilter) ([]*entity.User, error) {
	if f.UserType != "" && !entity.ValidType(f.UserType) {
		return nil, fmt.Errorf("%w: unknown user type %q", ErrInvalidInput, f.UserType)
	}
	return s.store.List(ctx, f)
}

// GetMinimalAuthView retrieves the minimal projection for a user by ID.
func (s *UserService) GetMinimalAuthView(ctx context.Context, id int64) (*entity.MinimalAuthView, error) {
	v, err := s.store.GetMinimalAuthView(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return v, err
}

// TokenVersion is the version access tokens must carry to stay valid.
func (s *UserService) TokenVersion(ctx context.Context, id int64) (int64, error) {
	v, err := s.GetMinimalAuthView(ctx, id)
	if err != nil {
		return 0, err
	}
	return v.Version, nil
}

// Contact resolves where notifications for id are delivered.
func (s *UserService) Contact(ctx context.Context, id int64) (notification.Contact, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return notification.Contact{}, err
	}
	c := notification.Contact{Name: u.DisplayName()}
	if u.Email != nil {
		c.Email = *u.Email
	}
	return c, nil
}

// AdminIDs lists active administrators.
func (s *UserService) AdminIDs(ctx context.Context) ([]int64, error) {
	return s.store.AdminIDs(ctx)
}

var (
	_ notification.Directory = (*UserService)(nil)
	_ auth.VersionSource     = (*UserService)(nil)
)

func (s *UserService) publish(ctx context.Context, t event.Type, userID int64) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event.New(t, userID, s.Clock())); err != nil {
		s.logger.Warnw("user event handlers failed", "type", t, "user_id", userID, "error", err)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
