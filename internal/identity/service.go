package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/parlor-forum/parlor/internal/settings"
	"github.com/parlor-forum/parlor/internal/shared"
)

// LoginCookieLifetime is how long an issued login cookie stays valid.
const LoginCookieLifetime = 60 * 24 * time.Hour

// Service wraps interactive login. The resolver never sees a raw
// password; this is the only place one is compared.
type Service struct {
	repo  MemberSource
	flood FloodGuard
	now   func() time.Time
}

// NewService constructs a Service. flood may be nil.
func NewService(repo MemberSource, flood FloodGuard) *Service {
	return &Service{repo: repo, flood: flood, now: time.Now}
}

// Authenticate validates name/password credentials and returns the
// member plus the cookie tuple a successful login should issue.
func (s *Service) Authenticate(ctx context.Context, snap settings.Snapshot, name, password, ip string) (*Member, LoginCookie, error) {
	member, err := s.repo.MemberByName(ctx, name)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logFailure(ctx, 0, ip)
			return nil, LoginCookie{}, shared.ErrInvalidCredentials
		}
		return nil, LoginCookie{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(member.PasswordHash), []byte(password)); err != nil {
		s.logFailure(ctx, member.ID, ip)
		return nil, LoginCookie{}, shared.ErrInvalidCredentials
	}

	switch member.Activated {
	case ActivationActive, ActivationEmailChange, ActivationAdminApprove:
	default:
		s.logFailure(ctx, member.ID, ip)
		return nil, LoginCookie{}, shared.ErrInvalidCredentials
	}

	cookie := LoginCookie{
		MemberID: member.ID,
		Hash:     CookieHash(member.PasswordHash, member.Salt),
		Expires:  s.now().Add(LoginCookieLifetime).Unix(),
		Domain:   snap.CookieDomain,
		Path:     snap.CookiePath,
	}
	return member, cookie, nil
}

// VerifyTwoFactor checks a submitted second-factor code against the
// member's stored secret and returns the cookie that marks the device
// as verified. Code generation and delivery live outside this package.
func (s *Service) VerifyTwoFactor(ctx context.Context, member *Member, code, ip string) (TwoFactorCookie, error) {
	if member.TFASecret == "" {
		return TwoFactorCookie{}, shared.ErrTwoFactorSetup
	}
	presented := CookieHash(code, member.Salt)
	expected := CookieHash(member.TFASecret, member.Salt)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
		s.logFailure(ctx, member.ID, ip)
		return TwoFactorCookie{}, shared.ErrInvalidCredentials
	}
	return TwoFactorCookie{MemberID: member.ID, SecretHash: expected}, nil
}

// SessionRecord derives the login record stored in the session for the
// same member, mirroring the cookie tuple without domain/path.
func (s *Service) SessionRecord(member *Member) shared.LoginRecord {
	return shared.LoginRecord{
		MemberID:     member.ID,
		PasswordHash: CookieHash(member.PasswordHash, member.Salt),
		Expires:      s.now().Add(LoginCookieLifetime).Unix(),
	}
}

func (s *Service) logFailure(ctx context.Context, memberID int64, ip string) {
	if s.flood == nil {
		return
	}
	_ = s.flood.LogFailure(ctx, memberID, ip)
}
