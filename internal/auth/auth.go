// Package auth owns the users table and the bearer tokens that gate the REST
// API and live subscriptions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUsernameTaken      = errors.New("username already in use")
	ErrNothingToUpdate    = errors.New("provide a new username or password")
)

// User is a dashboard account.
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"type:text;not null;uniqueIndex"`
	PasswordHash string `gorm:"type:text;not null"`
	LastToken    string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (User) TableName() string {
	return "users"
}

// Principal is an authenticated caller.
type Principal struct {
	UserID   uint
	Username string
}

// Token is a freshly issued bearer token.
type Token struct {
	Value     string
	ExpiresIn time.Duration
	Username  string
}

type Config struct {
	Secret          string
	TokenTTL        time.Duration
	DefaultUsername string
	DefaultPassword string
	BcryptCost      int
}

type Service struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
	cost   int
	logger *zap.Logger
	now    func() time.Time
}

// NewService migrates the users table and seeds the default account when
// no user with that name exists.
func NewService(ctx context.Context, db *gorm.DB, cfg Config, logger *zap.Logger) (*Service, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if cfg.Secret == "" {
		return nil, errors.New("token secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := db.WithContext(ctx).AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("migrate users: %w", err)
	}

	s := &Service{
		db:     db,
		secret: []byte(cfg.Secret),
		ttl:    cfg.TokenTTL,
		cost:   cfg.BcryptCost,
		logger: logger.Named("auth"),
		now:    time.Now,
	}
	if cfg.DefaultUsername != "" {
		if err := s.seed(ctx, cfg.DefaultUsername, cfg.DefaultPassword); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) seed(ctx context.Context, username, password string) error {
	_, err := s.user(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("look up default user: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash default password: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(&User{Username: username, PasswordHash: string(hash)}).Error; err != nil {
		return fmt.Errorf("create default user: %w", err)
	}
	s.logger.Info("seeded default user", zap.String("username", username))
	return nil
}

func (s *Service) user(ctx context.Context, username string) (User, error) {
	var u User
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&u).Error
	return u, err
}

// VerifyCredentials returns the principal for a matching username and password.
func (s *Service) VerifyCredentials(ctx context.Context, username, password string) (Principal, error) {
	u, err := s.user(ctx, strings.TrimSpace(username))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return Principal{}, fmt.Errorf("look up user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{UserID: u.ID, Username: u.Username}, nil
}

// IssueToken signs an HS256 token for p and records it as the user's last token.
func (s *Service) IssueToken(ctx context.Context, p Principal) (Token, error) {
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   p.Username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}

	err = s.db.WithContext(ctx).Model(&User{}).Where("id = ?", p.UserID).Update("last_token", signed).Error
	if err != nil {
		return Token{}, fmt.Errorf("store token: %w", err)
	}
	return Token{Value: signed, ExpiresIn: s.ttl, Username: p.Username}, nil
}

// ResolveToken validates raw and returns its principal. Tokens whose subject
// no longer exists are rejected.
func (s *Service) ResolveToken(ctx context.Context, raw string) (Principal, error) {
	if raw == "" {
		return Principal{}, ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || claims.Subject == "" {
		return Principal{}, ErrInvalidToken
	}

	u, err := s.user(ctx, claims.Subject)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Principal{}, ErrInvalidToken
	}
	if err != nil {
		return Principal{}, fmt.Errorf("look up token subject: %w", err)
	}
	return Principal{UserID: u.ID, Username: u.Username}, nil
}

// ProfileUpdate changes the caller's username and/or password.
type ProfileUpdate struct {
	CurrentPassword string
	NewUsername     string
	NewPassword     string
}

// UpdateProfile applies upd after re-checking the current password and
// returns a token for the (possibly renamed) user.
func (s *Service) UpdateProfile(ctx context.Context, p Principal, upd ProfileUpdate) (Token, error) {
	newUsername := strings.TrimSpace(upd.NewUsername)
	if newUsername == "" && upd.NewPassword == "" {
		return Token{}, ErrNothingToUpdate
	}
	current, err := s.VerifyCredentials(ctx, p.Username, upd.CurrentPassword)
	if err != nil {
		return Token{}, err
	}

	updates := map[string]any{}
	target := current.Username
	if newUsername != "" && newUsername != current.Username {
		if _, err := s.user(ctx, newUsername); err == nil {
			return Token{}, ErrUsernameTaken
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Token{}, fmt.Errorf("look up username: %w", err)
		}
		updates["username"] = newUsername
		target = newUsername
	}
	if upd.NewPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(upd.NewPassword), s.cost)
		if err != nil {
			return Token{}, fmt.Errorf("hash password: %w", err)
		}
		updates["password_hash"] = string(hash)
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", current.UserID).Updates(updates).Error; err != nil {
			return Token{}, fmt.Errorf("update user: %w", err)
		}
	}
	s.logger.Info("profile updated", zap.Uint("user_id", current.UserID), zap.String("username", target))
	return s.IssueToken(ctx, Principal{UserID: current.UserID, Username: target})
}
