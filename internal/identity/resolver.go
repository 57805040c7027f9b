package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/parlor-forum/parlor/internal/groups"
	"github.com/parlor-forum/parlor/internal/settings"
	"github.com/parlor-forum/parlor/internal/shared"
)

// MemberSource loads account and persona rows. Implemented by
// Repository; tests substitute a map-backed stub.
type MemberSource interface {
	Member(ctx context.Context, snap settings.Snapshot, id int64) (*Member, error)
	MemberByName(ctx context.Context, name string) (*Member, error)
	Character(ctx context.Context, id int64) (*Character, error)
	TouchLastVisit(ctx context.Context, memberID, visitedAt int64) error
}

// VerifyHook is an externally pluggable verification callback. It is
// called with no arguments and returns zero or more candidate member
// ids; the first strictly positive id wins and bypasses the password
// check entirely.
type VerifyHook func() []int64

// FloodGuard records failed login attempts, keyed by whatever identity
// information is available.
type FloodGuard interface {
	LogFailure(ctx context.Context, memberID int64, ip string) error
}

// Request carries the credential material of one HTTP request.
type Request struct {
	// CookieValue is the raw login cookie value, empty when absent.
	CookieValue string
	// TwoFactorCookieValue is the raw second-factor cookie value.
	TwoFactorCookieValue string
	// Session is the per-request session, may hold a login record.
	Session *shared.Session
	// UserAgent and RemoteIP feed the session gate, robot matching and
	// flood accounting.
	UserAgent string
	RemoteIP  string
	// TwoFactorAction marks requests that are themselves part of the
	// two-factor challenge or setup flow.
	TwoFactorAction bool
}

// Result is the outcome of resolution. Identity is never nil; failures
// degrade to guest rather than erroring.
type Result struct {
	Identity *Identity
	// ReissueCookie is set when the presented cookie's domain or path
	// no longer matches the canonical values and the cookie should be
	// transparently reissued.
	ReissueCookie *LoginCookie
	// TwoFactorChallenge is set when the member must present a second
	// factor; Identity is guest and the caller must redirect to the
	// challenge, never silently swallow this.
	TwoFactorChallenge bool
	// TwoFactorSetup is set when site policy forces two-factor and the
	// account has none configured; the caller must redirect to setup.
	TwoFactorSetup bool
}

type credentialSource int

const (
	sourceNone credentialSource = iota
	sourceHook
	sourceCookie
	sourceSession
)

// Resolver turns request credentials into an Identity.
type Resolver struct {
	repo     MemberSource
	registry *groups.Registry
	robots   *RobotMatcher
	flood    FloodGuard
	hooks    []VerifyHook
	logger   *slog.Logger
	now      func() time.Time
}

// NewResolver constructs a Resolver. flood may be nil.
func NewResolver(repo MemberSource, registry *groups.Registry, robots *RobotMatcher, flood FloodGuard, logger *slog.Logger) *Resolver {
	return &Resolver{
		repo:     repo,
		registry: registry,
		robots:   robots,
		flood:    flood,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterHook adds an integration verification hook. Hooks run before
// any cookie or session credential is considered.
func (r *Resolver) RegisterHook(h VerifyHook) {
	if h != nil {
		r.hooks = append(r.hooks, h)
	}
}

// Resolve implements the credential precedence: integration hooks, then
// the login cookie, then the session login record, then guest. Identity
// failures never surface as errors; only infrastructure faults do.
func (r *Resolver) Resolve(ctx context.Context, snap settings.Snapshot, req Request) (*Result, error) {
	candidateID, candidateHash, source, cookie := r.findCandidate(snap, req)
	if candidateID <= 0 {
		return r.guestResult(ctx, req), nil
	}

	member, err := r.repo.Member(ctx, snap, candidateID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			r.logFailure(ctx, candidateID, req.RemoteIP)
			return r.guestResult(ctx, req), nil
		}
		return nil, err
	}

	if source != sourceHook {
		if !r.hashMatches(member, candidateHash) {
			r.logFailure(ctx, member.ID, req.RemoteIP)
			return r.guestResult(ctx, req), nil
		}
	}

	switch member.Activated {
	case ActivationActive, ActivationEmailChange, ActivationAdminApprove:
	default:
		r.logFailure(ctx, member.ID, req.RemoteIP)
		return r.guestResult(ctx, req), nil
	}

	if member.TFASecret != "" && !req.TwoFactorAction {
		if !r.twoFactorSatisfied(member, req.TwoFactorCookieValue) {
			res := r.guestResult(ctx, req)
			res.TwoFactorChallenge = true
			return res, nil
		}
	}

	id, err := r.buildIdentity(ctx, member)
	if err != nil {
		return nil, err
	}

	if member.TFASecret == "" && !req.TwoFactorAction {
		forced, err := r.twoFactorForced(ctx, snap, id.Groups)
		if err != nil {
			return nil, err
		}
		if forced {
			return &Result{Identity: id, TwoFactorSetup: true}, nil
		}
	}

	res := &Result{Identity: id}
	if source == sourceCookie && (cookie.Domain != snap.CookieDomain || cookie.Path != snap.CookiePath) {
		reissued := cookie
		reissued.Domain = snap.CookieDomain
		reissued.Path = snap.CookiePath
		res.ReissueCookie = &reissued
	}

	r.touchLastVisit(ctx, snap, member, req.Session)
	return res, nil
}

func (r *Resolver) findCandidate(snap settings.Snapshot, req Request) (int64, string, credentialSource, LoginCookie) {
	for _, hook := range r.hooks {
		for _, id := range hook() {
			if id > 0 {
				return id, "", sourceHook, LoginCookie{}
			}
		}
	}

	if req.CookieValue != "" {
		cookie := DecodeLoginCookie(req.CookieValue)
		if cookie.MemberID > 0 && cookie.Hash != "" && cookie.Expires > r.now().Unix() {
			return cookie.MemberID, cookie.Hash, sourceCookie, cookie
		}
	}

	if req.Session != nil {
		if rec := req.Session.Login(); rec != nil && rec.MemberID > 0 && rec.Expires > r.now().Unix() {
			if !snap.CheckUserAgent || req.Session.UserAgent() == req.UserAgent {
				return rec.MemberID, rec.PasswordHash, sourceSession, LoginCookie{}
			}
		}
	}

	return 0, "", sourceNone, LoginCookie{}
}

// hashMatches compares the presented salted digest against the one
// derived from the password hash at rest. A presented value of the
// wrong length is rejected outright, treated as a wrong password.
func (r *Resolver) hashMatches(member *Member, presented string) bool {
	if len(presented) != cookieHashLen {
		return false
	}
	expected := CookieHash(member.PasswordHash, member.Salt)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}

func (r *Resolver) twoFactorSatisfied(member *Member, rawCookie string) bool {
	if rawCookie == "" {
		return false
	}
	c := DecodeTwoFactorCookie(rawCookie)
	if c.MemberID != member.ID {
		return false
	}
	expected := CookieHash(member.TFASecret, member.Salt)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(c.SecretHash)) == 1
}

func (r *Resolver) twoFactorForced(ctx context.Context, snap settings.Snapshot, groupIDs []int64) (bool, error) {
	switch snap.TFAMode {
	case settings.TFAModeOff:
		return false, nil
	case settings.TFAModeByGroup:
		return r.registry.TwoFactorRequiredFor(ctx, groupIDs)
	default:
		// Anything non-zero other than the per-group mode forces it
		// for everyone.
		return true, nil
	}
}

func (r *Resolver) buildIdentity(ctx context.Context, member *Member) (*Identity, error) {
	seen := map[int64]struct{}{member.PrimaryGroup: {}}
	groupSet := []int64{member.PrimaryGroup}
	for _, g := range member.AdditionalGroups {
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		groupSet = append(groupSet, g)
	}

	id := &Identity{
		MemberID:         member.ID,
		Name:             member.Name,
		Groups:           groupSet,
		ImmersivePref:    member.ImmersivePref,
		Permissions:      make(map[string]struct{}),
		TwoFactorEnabled: member.TFASecret != "",
	}

	if member.CurrentCharacter > 0 {
		char, err := r.repo.Character(ctx, member.CurrentCharacter)
		if err != nil {
			if !errors.Is(err, shared.ErrNotFound) {
				return nil, err
			}
			// A stale persona reference never blocks resolution.
			if r.logger != nil {
				r.logger.Warn("current character missing",
					slog.Int64("member", member.ID),
					slog.Int64("character", member.CurrentCharacter))
			}
		} else if char.MemberID == member.ID {
			id.CharacterID = char.ID
			id.CharacterIsMain = char.IsMain
			personas := append([]int64{char.MainGroup}, char.AdditionalGroups...)
			id.PersonaGroups = dedupe(personas)
		}
	}
	return id, nil
}

// touchLastVisit performs last-visit bookkeeping at most once per
// session, and only when the unread watermark is stale enough to be
// worth a write.
func (r *Resolver) touchLastVisit(ctx context.Context, snap settings.Snapshot, member *Member, sess *shared.Session) {
	if sess == nil || sess.Get("last_visit_logged") != "" {
		return
	}
	now := r.now()
	if now.Sub(time.Unix(member.UnreadWatermark, 0)) <= snap.LastVisitStaleness {
		return
	}
	if err := r.repo.TouchLastVisit(ctx, member.ID, now.Unix()); err != nil {
		if r.logger != nil {
			r.logger.Warn("last visit update failed", slog.Int64("member", member.ID), slog.Any("error", err))
		}
		return
	}
	sess.Set("last_visit_logged", "1")
}

func (r *Resolver) guestResult(ctx context.Context, req Request) *Result {
	id := Guest()
	if r.robots != nil {
		id.PossiblyRobot = r.robots.Match(ctx, req.UserAgent)
	}
	return &Result{Identity: id}
}

func (r *Resolver) logFailure(ctx context.Context, memberID int64, ip string) {
	if r.flood == nil {
		return
	}
	if err := r.flood.LogFailure(ctx, memberID, ip); err != nil && r.logger != nil {
		r.logger.Warn("flood accounting failed", slog.Any("error", err))
	}
}

func dedupe(in []int64) []int64 {
	seen := make(map[int64]struct{}, len(in))
	out := make([]int64, 0, len(in))
	for _, v := range in {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
