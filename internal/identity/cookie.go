package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
)

// LoginCookie is the long-lived credential tuple carried by the login
// cookie. Serialization is base64url(JSON); only the field semantics
// are contractual.
type LoginCookie struct {
	MemberID int64  `json:"m"`
	Hash     string `json:"h"`
	Expires  int64  `json:"e"`
	Domain   string `json:"d"`
	Path     string `json:"p"`
}

// TwoFactorCookie is the short-lived second-factor proof bound to a
// member id.
type TwoFactorCookie struct {
	MemberID   int64  `json:"m"`
	SecretHash string `json:"s"`
}

// cookieHashLen is the hex length of the sha256 digest carried by
// cookies and session login records. A presented hash of any other
// length is rejected as a wrong password before comparison.
const cookieHashLen = sha256.Size * 2

// DecodeLoginCookie parses a raw cookie value. Malformed or truncated
// payloads come back as the zero value: treated as "no cookie", never
// as an error.
func DecodeLoginCookie(raw string) LoginCookie {
	var c LoginCookie
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return LoginCookie{}
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return LoginCookie{}
	}
	if c.MemberID < 0 {
		return LoginCookie{}
	}
	return c
}

// EncodeLoginCookie serializes the tuple for transport.
func EncodeLoginCookie(c LoginCookie) string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeTwoFactorCookie parses the second-factor cookie; malformed
// payloads yield the zero value.
func DecodeTwoFactorCookie(raw string) TwoFactorCookie {
	var c TwoFactorCookie
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return TwoFactorCookie{}
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return TwoFactorCookie{}
	}
	return c
}

// EncodeTwoFactorCookie serializes the second-factor proof.
func EncodeTwoFactorCookie(c TwoFactorCookie) string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// CookieHash derives the salted digest stored in cookies and session
// login records from the password hash at rest. The password itself is
// never carried by a cookie.
func CookieHash(passwordHash, salt string) string {
	sum := sha256.Sum256([]byte(passwordHash + salt))
	return hex.EncodeToString(sum[:])
}
