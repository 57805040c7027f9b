package identity

import "testing"

func TestLoginCookieRoundTrip(t *testing.T) {
	in := LoginCookie{MemberID: 42, Hash: CookieHash("h", "s"), Expires: 1234, Domain: "parlor.example", Path: "/"}
	out := DecodeLoginCookie(EncodeLoginCookie(in))
	if out != in {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestDecodeLoginCookieMalformed(t *testing.T) {
	cases := []string{
		"",
		"not base64!",
		"bm90IGpzb24", // valid base64, not json
	}
	for _, raw := range cases {
		if got := DecodeLoginCookie(raw); got != (LoginCookie{}) {
			t.Fatalf("malformed value %q must decode to zero, got %+v", raw, got)
		}
	}
}

func TestDecodeLoginCookieNegativeMemberRejected(t *testing.T) {
	raw := EncodeLoginCookie(LoginCookie{MemberID: -5, Hash: "x"})
	if got := DecodeLoginCookie(raw); got != (LoginCookie{}) {
		t.Fatalf("negative member id must decode to zero, got %+v", got)
	}
}

func TestTwoFactorCookieRoundTrip(t *testing.T) {
	in := TwoFactorCookie{MemberID: 42, SecretHash: CookieHash("secret", "s")}
	out := DecodeTwoFactorCookie(EncodeTwoFactorCookie(in))
	if out != in {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestCookieHashStableAndSalted(t *testing.T) {
	a := CookieHash("hash", "salt-a")
	b := CookieHash("hash", "salt-b")
	if a == b {
		t.Fatal("different salts must produce different digests")
	}
	if a != CookieHash("hash", "salt-a") {
		t.Fatal("digest must be deterministic")
	}
	if len(a) != cookieHashLen {
		t.Fatalf("digest length %d, want %d", len(a), cookieHashLen)
	}
}
