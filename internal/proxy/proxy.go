// Package proxy serves chat attachments through the bridge so the ticketing
// system can download them from a stable, optionally signed URL.
package proxy

import (
	"encoding/base64"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// RoutePrefix is where the attachment handler is mounted.
const RoutePrefix = "/attachment"

var (
	// ErrBadReference is returned for a path that does not decode to an http(s) URL.
	ErrBadReference = errors.New("invalid attachment reference")
	// ErrBadToken is returned when a signed URL's token does not verify.
	ErrBadToken = errors.New("invalid attachment token")
)

// Signer turns remote attachment URLs into proxied ones. With a secret the
// proxied URL carries a JWT whose subject is the remote URL.
type Signer struct {
	site   string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a signer for the public site URL. An empty secret
// produces unsigned URLs.
func NewSigner(site, secret string, ttl time.Duration) *Signer {
	return &Signer{
		site:   strings.TrimSuffix(site, "/"),
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Signed reports whether proxied URLs carry a token.
func (s *Signer) Signed() bool {
	return len(s.secret) > 0
}

// ProxyURL implements bridge.AttachmentProxy. The last path segment keeps
// the remote file name so the ticketing system names the download correctly.
func (s *Signer) ProxyURL(remote string) string {
	u := s.site + RoutePrefix + "/" + EncodeRef(remote) + "/" + url.PathEscape(remoteName(remote))
	if !s.Signed() {
		return u
	}
	token, err := s.Sign(remote)
	if err != nil {
		// HS256 signing only fails on a bad key type; fall back to the raw URL.
		return remote
	}
	return u + "?token=" + url.QueryEscape(token)
}

// Sign returns an HS256 token for remote that expires after the TTL.
func (s *Signer) Sign(remote string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   remote,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks that token was issued by this signer for remote and has not expired.
func (s *Signer) Verify(token, remote string) error {
	if token == "" {
		return errors.Wrap(ErrBadToken, "missing token")
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(remote),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return errors.Wrap(ErrBadToken, err.Error())
	}
	if !parsed.Valid {
		return ErrBadToken
	}
	return nil
}

// EncodeRef encodes a remote URL into a single path segment.
func EncodeRef(remote string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(remote))
}

// DecodeRef reverses EncodeRef and accepts only absolute http(s) URLs.
func DecodeRef(ref string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ref)
	if err != nil {
		return "", errors.Wrap(ErrBadReference, err.Error())
	}
	remote := string(raw)
	u, err := url.Parse(remote)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", errors.Wrapf(ErrBadReference, "%q", remote)
	}
	return remote, nil
}

func remoteName(remote string) string {
	if u, err := url.Parse(remote); err == nil {
		if name := path.Base(u.Path); name != "." && name != "/" {
			return name
		}
	}
	return "attachment"
}
