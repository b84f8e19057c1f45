// Package authpw provides email/password authentication for broker accounts.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// BrokerStore defines the storage interface for auth
type BrokerStore interface {
	GetBrokerByEmail(ctx context.Context, email string) (store.Broker, error)
	CreateBroker(ctx context.Context, id, fullName, email, passwordHash string) (store.Broker, error)
}

type Service struct {
	store BrokerStore
}

func NewService(store BrokerStore) *Service {
	return &Service{store: store}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email    string
	Password string
	FullName string
}

// SignUp creates a new broker account
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.Broker, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" || strings.TrimSpace(req.FullName) == "" {
		return store.Broker{}, errors.New("email, password, and full name are required")
	}
	if len(req.Password) < 8 {
		return store.Broker{}, ErrWeakPassword
	}

	if _, err := s.store.GetBrokerByEmail(ctx, email); err == nil {
		return store.Broker{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.Broker{}, fmt.Errorf("hash password: %w", err)
	}

	broker, err := s.store.CreateBroker(ctx, util.NewID("brk"), strings.TrimSpace(req.FullName), email, string(hash))
	if err != nil {
		return store.Broker{}, fmt.Errorf("create broker: %w", err)
	}
	return broker, nil
}

// SignIn authenticates a broker. Lookup and password failures collapse into
// the same error so the response never reveals which emails exist.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.Broker, error) {
	if email == "" || password == "" {
		return store.Broker{}, ErrInvalidCredentials
	}

	broker, err := s.store.GetBrokerByEmail(ctx, email)
	if err != nil {
		return store.Broker{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(broker.PasswordHash), []byte(password)); err != nil {
		return store.Broker{}, ErrInvalidCredentials
	}
	return broker, nil
}
