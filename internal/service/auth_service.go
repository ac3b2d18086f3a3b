package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/deptkpi/kpi/internal/auth"
	"github.com/deptkpi/kpi/internal/repo"
	"github.com/deptkpi/kpi/internal/util"
)

var (
	ErrInvalidCredentials = &repo.Error{Kind: repo.KindUnauthorized, Message: "อีเมลหรือรหัสผ่านไม่ถูกต้อง"}
	ErrAccountDisabled    = &repo.Error{Kind: repo.KindForbidden, Message: "บัญชีผู้ใช้ถูกระงับ"}
	ErrRefreshInvalid     = &repo.Error{Kind: repo.KindUnauthorized, Message: "เซสชันหมดอายุ กรุณาเข้าสู่ระบบใหม่"}
	ErrNoEligibleRoles    = &repo.Error{Kind: repo.KindUnauthorized, Message: "บัญชีนี้ยังไม่ได้รับบทบาท กรุณาติดต่อผู้ดูแลระบบ"}
)

const refreshActive = "active"

type authRepository interface {
	GetUserByEmail(ctx context.Context, email string) (repo.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (repo.User, error)
	ListUserAccess(ctx context.Context, userID uuid.UUID) ([]string, error)
	RecordLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
	InsertRefreshToken(ctx context.Context, arg repo.InsertRefreshTokenParams) (repo.RefreshToken, error)
	GetRefreshTokenByHash(ctx context.Context, hash string) (repo.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, hash string) error
	PurgeRefreshTokens(ctx context.Context, subject uuid.UUID) error
}

type redisCommander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// AuthService signs staff in and manages their refresh sessions.
type AuthService struct {
	repo       authRepository
	redis      redisCommander
	jwt        *auth.JWTManager
	refreshTTL time.Duration
}

func NewAuthService(q *repo.Queries, redisClient *redis.Client, jwtMgr *auth.JWTManager, refreshTTL time.Duration) *AuthService {
	return &AuthService{
		repo:       q,
		redis:      redisClient,
		jwt:        jwtMgr,
		refreshTTL: refreshTTL,
	}
}

// SessionUser is the profile returned with every session.
type SessionUser struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	DepartmentID *uuid.UUID `json:"departmentId"`
}

// Session describes who is signed in and where the client should land.
type Session struct {
	User     SessionUser `json:"user"`
	Access   string      `json:"access"`
	Roles    []string    `json:"roles"`
	Redirect string      `json:"redirect"`
}

// LoginResult is returned by Login and Refresh.
type LoginResult struct {
	AccessToken   string
	RefreshToken  string
	RefreshExpiry time.Time
	Session       Session
}

// Login verifies the credentials and opens a new session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, repo.Validation("กรุณาระบุอีเมลและรหัสผ่าน")
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := auth.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrAccountDisabled
	}

	result, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.repo.RecordLogin(ctx, user.ID, util.Now()); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("record login failed")
	}
	return result, nil
}

// Refresh rotates a refresh token: the presented one is revoked and a new pair issued.
func (s *AuthService) Refresh(ctx context.Context, rawToken string) (*LoginResult, error) {
	if rawToken == "" {
		return nil, ErrRefreshInvalid
	}

	hash := auth.HashRefreshToken(rawToken)
	record, err := s.repo.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}
	if record.Revoked || util.Now().After(record.ExpiresAt) {
		return nil, ErrRefreshInvalid
	}

	redisKey := auth.RefreshRedisKey(hash)
	status, err := s.redis.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRefreshInvalid
	}
	if err != nil {
		return nil, err
	}
	if status != refreshActive {
		return nil, ErrRefreshInvalid
	}

	user, err := s.repo.GetUserByID(ctx, record.Subject)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrAccountDisabled
	}

	result, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.revoke(ctx, hash); err != nil {
		return nil, err
	}
	return result, nil
}

// Logout revokes the refresh token. An empty or unknown token is not an error.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	return s.revoke(ctx, auth.HashRefreshToken(rawToken))
}

// Session loads the profile and access of a signed-in user.
func (s *AuthService) Session(ctx context.Context, userID uuid.UUID) (Session, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Session{}, repo.ErrUnauthorized
		}
		return Session{}, err
	}
	if !user.Active {
		return Session{}, ErrAccountDisabled
	}
	roles, err := s.roles(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	return newSession(user, roles), nil
}

// AccessTTL is the lifetime of issued access tokens.
func (s *AuthService) AccessTTL() time.Duration {
	return s.jwt.AccessTTL()
}

func (s *AuthService) issue(ctx context.Context, user repo.User) (*LoginResult, error) {
	roles, err := s.roles(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	token, _, err := s.jwt.GenerateAccessToken(user.ID.String(), roles)
	if err != nil {
		return nil, err
	}

	rawRefresh, refreshHash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	expires := util.Now().Add(s.refreshTTL)
	if err := s.persistRefresh(ctx, user.ID, refreshHash, expires); err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:   token,
		RefreshToken:  rawRefresh,
		RefreshExpiry: expires,
		Session:       newSession(user, roles),
	}, nil
}

// roles returns the user's access codes, highest first. A user with none cannot sign in.
func (s *AuthService) roles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	codes, err := s.repo.ListUserAccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	levels := make([]auth.Access, 0, len(codes))
	for _, code := range codes {
		a, err := auth.ParseAccess(code)
		if err != nil {
			continue
		}
		levels = append(levels, a)
	}
	if len(levels) == 0 {
		return nil, ErrNoEligibleRoles
	}

	out := make([]string, 0, len(levels))
	for a := auth.AccessAdmin; a > auth.AccessNone; a-- {
		for _, l := range levels {
			if l == a {
				out = append(out, a.String())
				break
			}
		}
	}
	return out, nil
}

func newSession(user repo.User, roles []string) Session {
	primary := auth.Primary(roles)
	return Session{
		User: SessionUser{
			ID:           user.ID,
			Name:         user.Name,
			Email:        user.Email,
			DepartmentID: user.DepartmentID,
		},
		Access:   primary.String(),
		Roles:    roles,
		Redirect: primary.HomePath(),
	}
}

func (s *AuthService) persistRefresh(ctx context.Context, subject uuid.UUID, hash string, expires time.Time) error {
	_, err := s.repo.InsertRefreshToken(ctx, repo.InsertRefreshTokenParams{
		ID:        uuid.New(),
		Subject:   subject,
		TokenHash: hash,
		ExpiresAt: expires,
		CreatedAt: util.Now(),
	})
	if err != nil {
		return err
	}

	if err := s.repo.PurgeRefreshTokens(ctx, subject); err != nil {
		log.Warn().Err(err).Str("user_id", subject.String()).Msg("purge refresh tokens failed")
	}

	return s.redis.Set(ctx, auth.RefreshRedisKey(hash), refreshActive, time.Until(expires)).Err()
}

func (s *AuthService) revoke(ctx context.Context, hash string) error {
	if err := s.repo.RevokeRefreshToken(ctx, hash); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err := s.redis.Del(ctx, auth.RefreshRedisKey(hash)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
