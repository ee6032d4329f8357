package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"userhub/internal/auth"
	"userhub/internal/domain"
	"userhub/internal/repository"
)

const (
	// DefaultAdminUsername is the account seeded at startup.
	DefaultAdminUsername = "admin"
	// DefaultAdminPassword is the well-known initial credential of the seeded account.
	// Operators are expected to change it after first login.
	DefaultAdminPassword = "password"
)

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned when the identity has no matching record.
	ErrUserNotFound = errors.New("user not found")
	// ErrIncorrectPassword is returned when the supplied current password does not match.
	ErrIncorrectPassword = errors.New("incorrect current password")
	// ErrEmptyPassword is returned when the new password is missing or blank.
	ErrEmptyPassword = errors.New("new password cannot be empty")
	// ErrPasswordTooLong is returned when the new password cannot be hashed because of its length.
	ErrPasswordTooLong = errors.New("new password is too long")
)

// UserService describes user lifecycle operations.
type UserService interface {
	EnsureDefaultAdmin(ctx context.Context) (created bool, err error)
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error
}

// Option customizes a userService.
type Option func(*userService)

// WithAdminPassword overrides the initial password of the seeded admin account.
func WithAdminPassword(password string) Option {
	return func(s *userService) {
		if password != "" {
			s.adminPassword = password
		}
	}
}

// WithObserver registers a callback for password change outcomes.
func WithObserver(o Observer) Option {
	return func(s *userService) {
		if o != nil {
			s.observer = o
		}
	}
}

// Observer receives notable service events, e.g. for metrics.
type Observer interface {
	AdminSeeded()
	PasswordChangeAttempt(outcome string)
}

type noopObserver struct{}

func (noopObserver) AdminSeeded()                 {}
func (noopObserver) PasswordChangeAttempt(string) {}

type userService struct {
	users         repository.UserRepository
	hasher        auth.Hasher
	logger        logrus.FieldLogger
	adminPassword string
	observer      Observer
}

func NewUserService(users repository.UserRepository, hasher auth.Hasher, logger logrus.FieldLogger, opts ...Option) UserService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &userService{
		users:         users,
		hasher:        hasher,
		logger:        logger.WithField("component", "user_service"),
		adminPassword: DefaultAdminPassword,
		observer:      noopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureDefaultAdmin creates the admin account unless it already exists.
func (s *userService) EnsureDefaultAdmin(ctx context.Context) (bool, error) {
	_, err := s.users.GetByUsername(ctx, DefaultAdminUsername)
	switch {
	case err == nil:
		s.logger.Info("admin user already exists, skipping creation")
		return false, nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return false, fmt.Errorf("look up admin user: %w", err)
	}

	s.logger.Info("creating default admin user")
	hash, err := s.hasher.Hash(s.adminPassword)
	if err != nil {
		return false, err
	}

	admin := &domain.User{
		Username:     DefaultAdminUsername,
		PasswordHash: hash,
		Roles:        []string{domain.RoleAdmin},
	}
	if _, err := s.users.Create(ctx, admin); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return false, nil
		}
		return false, fmt.Errorf("create admin user: %w", err)
	}

	s.observer.AdminSeeded()
	if s.adminPassword == DefaultAdminPassword {
		s.logger.Warnf("default admin user %q created with the well-known default password, change it immediately", DefaultAdminUsername)
	} else {
		s.logger.Infof("default admin user %q created", DefaultAdminUsername)
	}
	return true, nil
}

func (s *userService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return sanitizeUser(user), nil
}

func (s *userService) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return sanitizeUser(user), nil
}

// ChangePassword verifies the current password before validating and storing the new one.
func (s *userService) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error {
	err := s.changePassword(ctx, username, currentPassword, newPassword)
	s.observer.PasswordChangeAttempt(outcomeOf(err))
	return err
}

func (s *userService) changePassword(ctx context.Context, username, currentPassword, newPassword string) error {
	log := s.logger.WithField("username", username)

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			log.Warn("password change for unknown user")
			return ErrUserNotFound
		}
		return err
	}

	if !s.hasher.Verify(currentPassword, user.PasswordHash) {
		log.Info("password change rejected: current password mismatch")
		return ErrIncorrectPassword
	}

	if strings.TrimSpace(newPassword) == "" {
		return ErrEmptyPassword
	}

	hash, err := s.hasher.Hash(newPassword)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return ErrPasswordTooLong
	}
	if err != nil {
		return err
	}
	user.PasswordHash = hash

	if err := s.users.Save(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("save user: %w", err)
	}

	log.Info("password changed")
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrUserNotFound):
		return "not_found"
	case errors.Is(err, ErrIncorrectPassword):
		return "incorrect_password"
	case errors.Is(err, ErrEmptyPassword):
		return "empty_password"
	case errors.Is(err, ErrPasswordTooLong):
		return "password_too_long"
	default:
		return "error"
	}
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	roles := make([]string, len(user.Roles))
	copy(roles, user.Roles)
	return &domain.User{
		ID:         user.ID,
		Username:   user.Username,
		Roles:      roles,
		Department: user.Department,
		CreatedAt:  user.CreatedAt,
		UpdatedAt:  user.UpdatedAt,
	}
}
