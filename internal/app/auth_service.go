package app

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"tiendabot/internal/config"
	"tiendabot/internal/model"
	"tiendabot/internal/pkg/jwtutil"
	"tiendabot/internal/repository"
)

var (
	ErrUserExists         = errors.New("username or email already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// AuthService manages operator accounts for the management API. This is a
// single-shop deployment, so registration is open and every account is an
// operator.
type AuthService struct {
	users *repository.UserRepository
	auth  config.AuthConfig
}

func NewAuthService(users *repository.UserRepository, auth config.AuthConfig) *AuthService {
	return &AuthService{users: users, auth: auth}
}

func (s *AuthService) Register(username, email, password string) (*model.User, error) {
	if existing, err := s.users.GetByUsername(username); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrUserExists
	}
	if existing, err := s.users.GetByEmail(email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) Login(username, password string) (string, *model.User, error) {
	user, err := s.users.GetByUsername(username)
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := jwtutil.GenerateToken(s.auth.JWTSecret, s.auth.JWTExpireMinute, user.ID, user.Username)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *AuthService) GetUser(id uint) (*model.User, error) {
	return s.users.GetByID(id)
}
