package admin

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/athwifi/voucher-api/internal/pkg/jwt"
	"github.com/athwifi/voucher-api/internal/pkg/password"
)

// Store is admin persistence. *Repository implements it.
type Store interface {
	Create(ctx context.Context, a *AdminUser) error
	GetByID(ctx context.Context, id uuid.UUID) (*AdminUser, error)
	GetByEmail(ctx context.Context, email string) (*AdminUser, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Service struct {
	store  Store
	tokens *jwt.Service
	now    func() time.Time
}

func NewService(store Store, tokens *jwt.Service) *Service {
	return &Service{store: store, tokens: tokens, now: time.Now}
}

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, pwd string) (*Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	a, err := s.store.GetByEmail(ctx, email)
	if errors.Is(err, ErrAdminNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !a.IsActive {
		return nil, ErrAdminInactive
	}
	if !password.Verify(pwd, a.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.GenerateAccessToken(a.ID, a.Email, string(a.Role))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.store.UpdateLastLogin(ctx, a.ID, now); err != nil {
		log.Warn().Err(err).Str("admin_id", a.ID.String()).Msg("Failed to record admin login")
	} else {
		a.LastLoginAt = &now
	}

	log.Info().Str("admin_id", a.ID.String()).Str("role", string(a.Role)).Msg("Admin logged in")
	return &Session{AccessToken: token, ExpiresAt: expiresAt, Admin: a}, nil
}

// Create registers an operator account.
func (s *Service) Create(ctx context.Context, email, pwd, name string, role Role) (*AdminUser, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	hash, err := password.Hash(pwd)
	if err != nil {
		return nil, err
	}
	a := &AdminUser{
		ID:           uuid.New(),
		Email:        strings.TrimSpace(strings.ToLower(email)),
		PasswordHash: hash,
		Name:         strings.TrimSpace(name),
		Role:         role,
		IsActive:     true,
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*AdminUser, error) {
	return s.store.GetByID(ctx, id)
}
