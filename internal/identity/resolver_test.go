package identity

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parlor-forum/parlor/internal/settings"
	"github.com/parlor-forum/parlor/internal/shared"
)

type stubMembers struct {
	members    map[int64]Member
	byName     map[string]int64
	characters map[int64]Character
	touched    []int64
}

func (s *stubMembers) Member(ctx context.Context, snap settings.Snapshot, id int64) (*Member, error) {
	m, ok := s.members[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	row := m
	return &row, nil
}

func (s *stubMembers) MemberByName(ctx context.Context, name string) (*Member, error) {
	id, ok := s.byName[name]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return s.Member(ctx, settings.Defaults(), id)
}

func (s *stubMembers) Character(ctx context.Context, id int64) (*Character, error) {
	c, ok := s.characters[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	row := c
	return &row, nil
}

func (s *stubMembers) TouchLastVisit(ctx context.Context, memberID, at int64) error {
	s.touched = append(s.touched, memberID)
	return nil
}

type recordingFlood struct {
	failures []int64
}

func (f *recordingFlood) LogFailure(ctx context.Context, memberID int64, ip string) error {
	f.failures = append(f.failures, memberID)
	return nil
}

func fixtureMembers() *stubMembers {
	return &stubMembers{
		members: map[int64]Member{
			42: {
				ID: 42, Name: "rowan", PasswordHash: "bcrypt-at-rest", Salt: "pepper",
				PrimaryGroup: 2, AdditionalGroups: []int64{5}, Activated: ActivationActive,
			},
		},
		byName: map[string]int64{"rowan": 42},
	}
}

func testResolver(repo MemberSource, flood FloodGuard) *Resolver {
	return NewResolver(repo, nil, NewRobotMatcher(nil), flood, slog.New(slog.DiscardHandler))
}

func validCookie(m Member, expires int64) string {
	return EncodeLoginCookie(LoginCookie{
		MemberID: m.ID,
		Hash:     CookieHash(m.PasswordHash, m.Salt),
		Expires:  expires,
		Path:     "/",
	})
}

func TestResolveNoCredentialsYieldsGuest(t *testing.T) {
	r := testResolver(fixtureMembers(), nil)
	res, err := r.Resolve(context.Background(), settings.Defaults(), Request{})
	require.NoError(t, err)
	require.True(t, res.Identity.IsGuest())
	require.False(t, res.TwoFactorChallenge)
}

func TestResolveValidCookie(t *testing.T) {
	repo := fixtureMembers()
	r := testResolver(repo, nil)

	snap := settings.Defaults()
	req := Request{CookieValue: validCookie(repo.members[42], time.Now().Add(time.Hour).Unix())}
	res, err := r.Resolve(context.Background(), snap, req)
	require.NoError(t, err)

	id := res.Identity
	require.Equal(t, int64(42), id.MemberID)
	require.Equal(t, "rowan", id.Name)
	require.ElementsMatch(t, []int64{2, 5}, id.Groups)
	require.Nil(t, res.ReissueCookie, "canonical domain and path need no reissue")
}

func TestResolveMalformedCookieDegradesToGuestRepeatably(t *testing.T) {
	r := testResolver(fixtureMembers(), nil)
	req := Request{CookieValue: "%%%not-base64%%%"}

	for i := 0; i < 2; i++ {
		res, err := r.Resolve(context.Background(), settings.Defaults(), req)
		require.NoError(t, err)
		require.True(t, res.Identity.IsGuest(), "a malformed cookie must always read as no cookie")
	}
}

func TestResolveExpiredCookieIgnored(t *testing.T) {
	repo := fixtureMembers()
	r := testResolver(repo, nil)
	req := Request{CookieValue: validCookie(repo.members[42], time.Now().Add(-time.Hour).Unix())}
	res, err := r.Resolve(context.Background(), settings.Defaults(), req)
	require.NoError(t, err)
	require.True(t, res.Identity.IsGuest())
}

func TestResolveWrongHashLengthRejected(t *testing.T) {
	repo := fixtureMembers()
	flood := &recordingFlood{}
	r := testResolver(repo, flood)

	cookie := EncodeLoginCookie(LoginCookie{
		MemberID: 42,
		Hash:     "short-but-plausible",
		Expires:  time.Now().Add(time.Hour).Unix(),
	})
	res, err := r.Resolve(context.Background(), settings.Defaults(), Request{CookieValue: cookie})
	require.NoError(t, err)
	require.True(t, res.Identity.IsGuest())
	require.Equal(t, []int64{42}, flood.failures, "a bad credential must be flood accounted")
}

func TestResolveUnknownMemberFloodAccounted(t *testing.T) {
	flood := &recordingFlood{}
	r := testResolver(fixtureMembers(), flood)

	cookie := EncodeLoginCookie(LoginCookie{
		MemberID: 999,
		Hash:     CookieHash("whatever", "salt"),
		Expires:  time.Now().Add(time.Hour).Unix(),
	})
	res, err := r.Resolve(context.Background(), settings.Defaults(), Request{CookieValue: cookie})
	require.NoError(t, err)
	require.True(t, res.Identity.IsGuest())
	require.Equal(t, []int64{999}, flood.failures)
}

func TestResolveInactiveAccountDegrades(t *testing.T) {
	repo := fixtureMembers()
	m := repo.members[42]
	m.Activated = 0
	repo.members[42] = m
	r := testResolver(repo, nil)

	req := Request{CookieValue: validCookie(m, time.Now().Add(time.Hour).Unix())}
	res, err := r.Resolve(context.Background(), settings.Defaults(), req)
	require.NoError(t, err)
	require.True(t, res.Identity.IsGuest())
}

func TestResolveSessionRecord(t *testing.T) {
	repo := fixtureMembers()
	r := testResolver(repo, nil)
	m := repo.members[42]

	sess := &shared.Session{}
	sess.SetLogin(shared.LoginRecord{
		MemberID:     42,
		PasswordHash: CookieHash(m.PasswordHash, m.Salt),
		Expires:      time.Now().Add(time.Hour).Unix(),
	}, "agent-a")

	snap := settings.Defaults()
	res, err := r.Resolve(context.Background(), snap, Request{Session: sess, UserAgent: "agent-a"})
	require.NoError(t, err)
	require.Equal(t, int64(42), res.Identity.MemberID)
}

func TestResolveSessionUserAgentGate(t *testing.T) {
	repo := fixtureMembers()
	r := testResolver(repo, nil)
	m := repo.members[42]

	sess := &shared.Session{}
	sess.SetLogin(shared.LoginRecord{
		MemberID:     42,
		PasswordHash: CookieHash(m.PasswordHash, m.Salt),
		Expires:      time.Now().Add(time.Hour).Unix(),
	}, "agent-a")

	snap := settings.Defaults()
	require.True(t, snap.CheckUserAgent)
	res, err := r.Resolve(context.Background(), snap, Request{Session: sess, UserAgent: "agent-b"})
	require.NoError(t, err)
	require.True(t, res.Identity.IsGuest(), "user agent mismatch must drop the session credential")

	snap.CheckUserAgent = false
	res, err = r.Resolve(context.Background(), snap, Request{Session: sess, UserAgent: "agent-b"})
	require.NoError(t, err)
	require.Equal(t, int64(42), res.Identity.MemberID, "the gate is off when the setting is off")
}

func TestResolveCookieBeatsSession(t *testing.T) {
	repo := fixtureMembers()
	repo.members[7] = Member{
		ID: 7, Name: "other", PasswordHash: "hash-b", Salt: "s", PrimaryGroup: 2,
		Activated: ActivationActive,
	}
	r := testResolver(repo, nil)

	sess := &shared.Session{}
	sess.SetLogin(shared.LoginRecord{
		MemberID:     7,
		PasswordHash: CookieHash("hash-b", "s"),
		Expires:      time.Now().Add(time.Hour).Unix(),
	}, "agent-a")

	req := Request{
		CookieValue: validCookie(repo.members[42], time.Now().Add(time.Hour).Unix()),
		Session:     sess,
		UserAgent:   "agent-a",
	}
	res, err := r.Resolve(context.Background(), settings.Defaults(), req)
	require.NoError(t, err)
	require.Equal(t, int64(42), res.Identity.MemberID, "the cookie outranks the session record")
}

func TestResolveHookBypassesPassword(t *testing.T) {
	repo := fixtureMembers()
	r := testResolver(repo, nil)
	r.RegisterHook(func() []int64 { return []int64{0, 42} })

	res, err := r.Resolve(context.Background(), settings.Defaults(), Request{})
	require.NoError(t, err)
	require.Equal(t, int64(42), res.Identity.MemberID, "first positive hook id wins without a hash check")
}

func TestResolveCookieReissueOnDomainChange(t *testing.T) {
	repo := fixtureMembers()
	r := testResolver(repo, nil)

	m := repo.members[42]
	stale := EncodeLoginCookie(LoginCookie{
		MemberID: m.ID,
		Hash:     CookieHash(m.PasswordHash, m.Salt),
		Expires:  time.Now().Add(time.Hour).Unix(),
		Domain:   "old.example",
		Path:     "/forum",
	})

	snap := settings.Defaults()
	snap.CookieDomain = "parlor.example"
	res, err := r.Resolve(context.Background(), snap, Request{CookieValue: stale})
	require.NoError(t, err)
	require.NotNil(t, res.ReissueCookie)
	require.Equal(t, "parlor.example", res.ReissueCookie.Domain)
	require.Equal(t, snap.CookiePath, res.ReissueCookie.Path)
	require.Equal(t, m.ID, res.ReissueCookie.MemberID)
}

func TestResolveTwoFactorChallenge(t *testing.T) {
	repo := fixtureMembers()
	m := repo.members[42]
	m.TFASecret = "shared-secret"
	repo.members[42] = m
	r := testResolver(repo, nil)

	req := Request{CookieValue: validCookie(m, time.Now().Add(time.Hour).Unix())}
	res, err := r.Resolve(context.Background(), settings.Defaults(), req)
	require.NoError(t, err)
	require.True(t, res.TwoFactorChallenge)
	require.True(t, res.Identity.IsGuest(), "the challenge ships with a guest identity")

	// A valid device cookie satisfies the factor.
	req.TwoFactorCookieValue = EncodeTwoFactorCookie(TwoFactorCookie{
		MemberID:   42,
		SecretHash: CookieHash("shared-secret", m.Salt),
	})
	res, err = r.Resolve(context.Background(), settings.Defaults(), req)
	require.NoError(t, err)
	require.False(t, res.TwoFactorChallenge)
	require.Equal(t, int64(42), res.Identity.MemberID)
	require.True(t, res.Identity.TwoFactorEnabled)

	// The challenge pages themselves must never bounce.
	req.TwoFactorCookieValue = ""
	req.TwoFactorAction = true
	res, err = r.Resolve(context.Background(), settings.Defaults(), req)
	require.NoError(t, err)
	require.False(t, res.TwoFactorChallenge)
	require.Equal(t, int64(42), res.Identity.MemberID)
}

func TestResolveTwoFactorSetupForced(t *testing.T) {
	repo := fixtureMembers()
	r := testResolver(repo, nil)

	snap := settings.Defaults()
	snap.TFAMode = settings.TFAModeEveryone
	req := Request{CookieValue: validCookie(repo.members[42], time.Now().Add(time.Hour).Unix())}
	res, err := r.Resolve(context.Background(), snap, req)
	require.NoError(t, err)
	require.True(t, res.TwoFactorSetup)
	require.Equal(t, int64(42), res.Identity.MemberID, "setup redirects keep the resolved member")

	// Any unrecognized non-zero mode forces setup as well.
	snap.TFAMode = 9
	res, err = r.Resolve(context.Background(), snap, req)
	require.NoError(t, err)
	require.True(t, res.TwoFactorSetup)

	snap.TFAMode = settings.TFAModeOff
	res, err = r.Resolve(context.Background(), snap, req)
	require.NoError(t, err)
	require.False(t, res.TwoFactorSetup)
}

func TestResolvePersonaGroups(t *testing.T) {
	repo := fixtureMembers()
	m := repo.members[42]
	m.CurrentCharacter = 77
	repo.members[42] = m
	repo.characters = map[int64]Character{
		77: {ID: 77, MemberID: 42, MainGroup: 14, AdditionalGroups: []int64{15}},
	}
	r := testResolver(repo, nil)

	req := Request{CookieValue: validCookie(m, time.Now().Add(time.Hour).Unix())}
	res, err := r.Resolve(context.Background(), settings.Defaults(), req)
	require.NoError(t, err)
	require.Equal(t, int64(77), res.Identity.CharacterID)
	require.ElementsMatch(t, []int64{14, 15}, res.Identity.PersonaGroups)
}

func TestResolveStalePersonaIsNotFatal(t *testing.T) {
	repo := fixtureMembers()
	m := repo.members[42]
	m.CurrentCharacter = 404
	repo.members[42] = m
	r := testResolver(repo, nil)

	req := Request{CookieValue: validCookie(m, time.Now().Add(time.Hour).Unix())}
	res, err := r.Resolve(context.Background(), settings.Defaults(), req)
	require.NoError(t, err)
	require.Equal(t, int64(42), res.Identity.MemberID)
	require.Zero(t, res.Identity.CharacterID)
}

func TestResolveRobotGuest(t *testing.T) {
	r := testResolver(fixtureMembers(), nil)
	res, err := r.Resolve(context.Background(), settings.Defaults(), Request{
		UserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1)",
	})
	require.NoError(t, err)
	require.True(t, res.Identity.IsGuest())
	require.True(t, res.Identity.PossiblyRobot)
}

func TestResolveLastVisitOncePerSession(t *testing.T) {
	repo := fixtureMembers()
	m := repo.members[42]
	m.UnreadWatermark = time.Now().Add(-24 * time.Hour).Unix()
	repo.members[42] = m
	r := testResolver(repo, nil)

	sess := &shared.Session{}
	req := Request{
		CookieValue: validCookie(m, time.Now().Add(time.Hour).Unix()),
		Session:     sess,
	}

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), settings.Defaults(), req)
		require.NoError(t, err)
	}
	require.Equal(t, []int64{42}, repo.touched, "bookkeeping runs at most once per session")
}

func TestResolveLastVisitSkippedWhenFresh(t *testing.T) {
	repo := fixtureMembers()
	m := repo.members[42]
	m.UnreadWatermark = time.Now().Unix()
	repo.members[42] = m
	r := testResolver(repo, nil)

	sess := &shared.Session{}
	req := Request{
		CookieValue: validCookie(m, time.Now().Add(time.Hour).Unix()),
		Session:     sess,
	}
	_, err := r.Resolve(context.Background(), settings.Defaults(), req)
	require.NoError(t, err)
	require.Empty(t, repo.touched, "a fresh watermark skips the write")
}
