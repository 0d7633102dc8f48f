package user

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"petconnect/internal/auth"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrEmailTaken     = errors.New("email already registered")
	ErrInvalid        = errors.New("invalid user")
	ErrBadCredentials = errors.New("invalid credentials")
)

const (
	minPasswordLen     = 8
	defaultSearchLimit = 10
)

type TokenIssuer interface {
	Issue(id auth.Identity) (string, error)
}

type Service struct {
	repo   Repository
	tokens TokenIssuer
	cost   int
	now    func() time.Time
}

func NewService(repo Repository, tokens TokenIssuer) *Service {
	return &Service{
		repo:   repo,
		tokens: tokens,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	role := req.Role
	if role == "" {
		role = RoleOwner
	}

	switch {
	case name == "":
		return nil, errors.Wrap(ErrInvalid, "name is required")
	case !validEmail(email):
		return nil, errors.Wrap(ErrInvalid, "email is invalid")
	case len(req.Password) < minPasswordLen:
		return nil, errors.Wrapf(ErrInvalid, "password must be at least %d characters", minPasswordLen)
	case role != RoleOwner && role != RoleWalker:
		// Admins are provisioned out of band.
		return nil, errors.Wrap(ErrInvalid, "role must be owner or walker")
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	u := &User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Password:  string(hashedPwd),
		Role:      role,
		CreatedAt: s.now().UTC(),
	}
	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	u.Password = ""
	return u, nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrBadCredentials
	}

	ss, err := s.tokens.Issue(auth.Identity{UserID: u.ID, Name: u.Name, Role: u.Role})
	if err != nil {
		return nil, err
	}

	u.Password = ""
	return &LoginResponse{AccessToken: ss, User: u}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Password = ""
	return u, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]User, error) {
	return s.repo.SearchUsers(ctx, strings.TrimSpace(query), defaultSearchLimit)
}

// Names maps user ids to display names; unknown ids are left out.
func (s *Service) Names(ctx context.Context, ids []string) (map[string]string, error) {
	return s.repo.Names(ctx, ids)
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
