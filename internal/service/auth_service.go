package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-counsel-api/internal/models"
	appErrors "github.com/noah-isme/sma-counsel-api/pkg/errors"
)

// DefaultLockThreshold is the number of failed sign-ins that locks an account.
const DefaultLockThreshold = 10

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

type loginLockStore interface {
	Get(ctx context.Context, lockKey string) (*models.LoginLock, error)
	RecordFailure(ctx context.Context, lockKey string, threshold int) (*models.LoginLock, error)
	Reset(ctx context.Context, lockKey string) error
}

type lockEventRecorder interface {
	RecordLoginLockEvent(event string)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
	Audience          []string
	LockThreshold     int
}

// AuthService provides sign-in with a failed-attempt lockout.
type AuthService struct {
	repo      authUserRepository
	locks     loginLockStore
	metrics   lockEventRecorder
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, locks loginLockStore, metrics lockEventRecorder, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.LockThreshold <= 0 {
		config.LockThreshold = DefaultLockThreshold
	}
	return &AuthService{repo: repo, locks: locks, metrics: metrics, validator: validate, logger: logger, config: config}
}

// LockKey derives the lock identifier for an email address.
func LockKey(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// Login authenticates a teacher and returns an access token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	key := LockKey(req.Email)
	lock, err := s.locks.Get(ctx, key)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check login lock")
	}
	if lock != nil && lock.IsLocked {
		s.recordEvent("rejected")
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrAccountLocked, ""), s.status(lock))
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.failedAttempt(ctx, key, req)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, s.failedAttempt(ctx, key, req)
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	if err := s.locks.Reset(ctx, key); err != nil {
		s.logger.Warn("failed to reset login lock", zap.Error(err))
	}
	if lock != nil && lock.FailedAttempts > 0 {
		s.recordEvent("reset")
	}

	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	return &models.LoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:    time.Now().UTC(),
		User: models.UserInfo{
			ID:       user.ID,
			Email:    user.Email,
			FullName: user.FullName,
			Role:     user.Role,
		},
	}, nil
}

// CheckLock reports the lock state for an email without changing it.
func (s *AuthService) CheckLock(ctx context.Context, req models.LockCheckRequest) (*models.LockStatus, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lock check payload")
	}
	lock, err := s.locks.Get(ctx, LockKey(req.Email))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check login lock")
	}
	return s.status(lock), nil
}

// RecordFailure counts one failed sign-in made through an external identity provider.
func (s *AuthService) RecordFailure(ctx context.Context, req models.LockCheckRequest) (*models.LockStatus, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lock payload")
	}
	lock, err := s.increment(ctx, LockKey(req.Email))
	if err != nil {
		return nil, err
	}
	return s.status(lock), nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return claims, nil
}

func (s *AuthService) failedAttempt(ctx context.Context, key string, req models.LoginRequest) error {
	lock, err := s.increment(ctx, key)
	if err != nil {
		return err
	}
	status := s.status(lock)
	s.logger.Info("login failed",
		zap.String("lock_key", key),
		zap.String("ip", req.IP),
		zap.String("user_agent", req.UserAgent),
		zap.Int("remaining_attempts", status.RemainingAttempts),
	)
	if status.IsLocked {
		return appErrors.WithDetails(appErrors.Clone(appErrors.ErrAccountLocked, ""), status)
	}
	return appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password"), status)
}

func (s *AuthService) increment(ctx context.Context, key string) (*models.LoginLock, error) {
	lock, err := s.locks.RecordFailure(ctx, key, s.config.LockThreshold)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record login failure")
	}
	s.recordEvent("failure")
	if lock.IsLocked && lock.FailedAttempts >= s.config.LockThreshold {
		s.recordEvent("locked")
		s.logger.Warn("login locked", zap.String("lock_key", key), zap.Int("failed_attempts", lock.FailedAttempts))
	}
	return lock, nil
}

func (s *AuthService) status(lock *models.LoginLock) *models.LockStatus {
	if lock == nil {
		return &models.LockStatus{RemainingAttempts: s.config.LockThreshold}
	}
	remaining := s.config.LockThreshold - lock.FailedAttempts
	if remaining < 0 || lock.IsLocked {
		remaining = 0
	}
	return &models.LockStatus{
		IsLocked:          lock.IsLocked,
		FailedAttempts:    lock.FailedAttempts,
		RemainingAttempts: remaining,
	}
}

func (s *AuthService) recordEvent(event string) {
	if s.metrics != nil {
		s.metrics.RecordLoginLockEvent(event)
	}
}

func (s *AuthService) generateAccessToken(user *models.User) (string, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID:   user.ID,
		Role:     user.Role,
		Email:    user.Email,
		FullName: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.AccessTokenSecret))
}
