package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"caseflow/api/internal/store"
)

type fakeBrokerStore struct {
	getByEmail func(ctx context.Context, email string) (store.Broker, error)
	create     func(ctx context.Context, id, fullName, email, passwordHash string) (store.Broker, error)
}

func (f *fakeBrokerStore) GetBrokerByEmail(ctx context.Context, email string) (store.Broker, error) {
	return f.getByEmail(ctx, email)
}

func (f *fakeBrokerStore) CreateBroker(ctx context.Context, id, fullName, email, passwordHash string) (store.Broker, error) {
	return f.create(ctx, id, fullName, email, passwordHash)
}

func TestSignUpHashesPasswordAndLowercasesEmail(t *testing.T) {
	var created store.Broker
	fs := &fakeBrokerStore{
		getByEmail: func(ctx context.Context, email string) (store.Broker, error) {
			return store.Broker{}, sql.ErrNoRows
		},
		create: func(ctx context.Context, id, fullName, email, passwordHash string) (store.Broker, error) {
			created = store.Broker{ID: id, FullName: fullName, Email: email, PasswordHash: passwordHash}
			return created, nil
		},
	}

	svc := NewService(fs)
	broker, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:    "Jordan@Example.COM",
		Password: "hunter2hunter2",
		FullName: "Jordan Hale",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if broker.Email != "jordan@example.com" {
		t.Fatalf("email not normalized: %q", broker.Email)
	}
	if broker.PasswordHash == "hunter2hunter2" {
		t.Fatal("password stored in plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("hunter2hunter2")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(&fakeBrokerStore{})
	_, err := svc.SignUp(context.Background(), SignUpRequest{Email: "a@b.c", Password: "short", FullName: "A"})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	fs := &fakeBrokerStore{
		getByEmail: func(ctx context.Context, email string) (store.Broker, error) {
			return store.Broker{ID: "brk_1", Email: email}, nil
		},
	}
	svc := NewService(fs)
	_, err := svc.SignUp(context.Background(), SignUpRequest{Email: "a@b.c", Password: "hunter2hunter2", FullName: "A"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignInDoesNotRevealWhichPartFailed(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	fs := &fakeBrokerStore{
		getByEmail: func(ctx context.Context, email string) (store.Broker, error) {
			if email == "known@example.com" {
				return store.Broker{ID: "brk_1", Email: email, PasswordHash: string(hash)}, nil
			}
			return store.Broker{}, sql.ErrNoRows
		},
	}
	svc := NewService(fs)

	_, unknownErr := svc.SignIn(context.Background(), "missing@example.com", "whatever")
	_, wrongErr := svc.SignIn(context.Background(), "known@example.com", "wrong-password")
	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("expected identical credential errors, got %v and %v", unknownErr, wrongErr)
	}

	broker, err := svc.SignIn(context.Background(), "known@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if broker.ID != "brk_1" {
		t.Fatalf("unexpected broker: %+v", broker)
	}
}
