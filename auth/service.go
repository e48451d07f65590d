package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/insurge/chatd/api/models"
	"github.com/insurge/chatd/auth/db"
	"github.com/insurge/chatd/internal/config"
	"github.com/insurge/chatd/internal/slogging"
	"github.com/insurge/chatd/internal/textcheck"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike,
	// so login responses do not reveal which one failed.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidToken is returned for malformed, expired, or revoked tokens
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrEmailTaken is returned when registering with an email or username
	// that already has an account.
	ErrEmailTaken = errors.New("email or username already registered")
	// ErrUserInactive is returned when a deactivated account authenticates
	ErrUserInactive = errors.New("user account is deactivated")
	// ErrInvalidUsername is returned when a username fails Unicode
	// spoofing checks.
	ErrInvalidUsername = errors.New("invalid username")
)

// Claims represents the JWT claims carried by access tokens
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenPair contains an access token and a refresh token
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// RegisterInput carries the fields for creating an account
type RegisterInput struct {
	Email     string `json:"email" binding:"required,email"`
	Username  string `json:"username" binding:"required,min=3,max=64"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Service provides password authentication and token management
type Service struct {
	gorm  *gorm.DB
	redis *db.RedisDB
	cfg   config.JWTConfig
}

// NewService creates an auth service. The JWT secret must be set unless
// the insecure dev fallback is explicitly allowed.
func NewService(gormDB *gorm.DB, redisDB *db.RedisDB, cfg config.JWTConfig) (*Service, error) {
	if cfg.Secret == "" {
		if !cfg.AllowInsecureDevSecret {
			return nil, fmt.Errorf("JWT secret is not configured")
		}
		slogging.Get().Warn("Using insecure development JWT secret; do not run this in production")
		cfg.Secret = "chatd-dev-secret-do-not-use-in-production"
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{gorm: gormDB, redis: redisDB, cfg: cfg}, nil
}

// Register creates a new user account with a bcrypt-hashed password
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	username := textcheck.NormalizeDisplayName(in.Username)
	if err := textcheck.ValidateDisplayName(username); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidUsername, err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{
		Email:          strings.ToLower(strings.TrimSpace(in.Email)),
		Username:       username,
		HashedPassword: string(hashed),
		IsActive:       true,
	}
	if in.FirstName != "" {
		user.FirstName = &in.FirstName
	}
	if in.LastName != "" {
		user.LastName = &in.LastName
	}
	if err := s.gorm.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slogging.Get().Info("Registered user %d (%s)", user.ID, slogging.SanitizeLogMessage(user.Username))
	return &user, nil
}

// Login verifies the password and issues a token pair
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, TokenPair, error) {
	var user models.User
	err := s.gorm.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// burn a comparison so timing does not reveal account existence
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$12$invalidsaltinvalidsaltinvalidsaltinvalids"), []byte(password))
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return nil, TokenPair{}, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, TokenPair{}, ErrUserInactive
	}

	pair, err := s.GenerateTokens(ctx, &user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return &user, pair, nil
}

// GenerateTokens issues an HS256 access token plus an opaque refresh token
// stored in Redis.
func (s *Service) GenerateTokens(ctx context.Context, user *models.User) (TokenPair, error) {
	now := time.Now()
	expiration := now.Add(time.Duration(s.cfg.ExpirationSeconds) * time.Second)

	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to sign token: %w", err)
	}

	refreshToken := uuid.New().String()
	refreshKey := refreshTokenKey(refreshToken)
	refreshTTL := time.Duration(s.cfg.RefreshExpirationDays) * 24 * time.Hour
	if err := s.redis.Set(ctx, refreshKey, fmt.Sprintf("%d", user.ID), refreshTTL); err != nil {
		return TokenPair{}, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    s.cfg.ExpirationSeconds,
		TokenType:    "Bearer",
	}, nil
}

// ValidateToken parses and verifies an access token
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RefreshTokens rotates a refresh token: the old token is consumed and a
// fresh pair is issued. A reused token fails with ErrInvalidToken.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (TokenPair, error) {
	refreshKey := refreshTokenKey(refreshToken)
	stored, err := s.redis.Get(ctx, refreshKey)
	if errors.Is(err, db.ErrKeyNotFound) {
		return TokenPair{}, ErrInvalidToken
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to look up refresh token: %w", err)
	}

	if err := s.redis.Del(ctx, refreshKey); err != nil {
		return TokenPair{}, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	var userID int64
	if _, err := fmt.Sscanf(stored, "%d", &userID); err != nil {
		return TokenPair{}, ErrInvalidToken
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	if !user.IsActive {
		return TokenPair{}, ErrUserInactive
	}
	return s.GenerateTokens(ctx, user)
}

// RevokeRefreshToken invalidates a refresh token immediately
func (s *Service) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	return s.redis.Del(ctx, refreshTokenKey(refreshToken))
}

// GetUserByID loads a user by primary key
func (s *Service) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.gorm.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return &user, nil
}

// UpdateProfile updates mutable profile fields for the given user
func (s *Service) UpdateProfile(ctx context.Context, userID int64, firstName, lastName *string) (*models.User, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if firstName != nil {
		updates["first_name"] = *firstName
	}
	if lastName != nil {
		updates["last_name"] = *lastName
	}
	if len(updates) == 0 {
		return user, nil
	}
	if err := s.gorm.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update user %d: %w", userID, err)
	}
	return s.GetUserByID(ctx, userID)
}

func refreshTokenKey(token string) string {
	return fmt.Sprintf("refresh_token:%s", token)
}
