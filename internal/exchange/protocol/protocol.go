// Package protocol defines the wire contract of the token exchange: the
// parameter and cookie names, origin canonicalization, and URL construction
// for the authenticate and verify hops.
package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"

	dErrors "ssogate/pkg/domain-errors"
)

const (
	// ParamToken carries an exchange token id on redirects and on verify.
	ParamToken = "sso"
	// ParamOrigin names the URL the Authority redirects back to.
	ParamOrigin = "origin"
	// ParamAPIKey authenticates a Relying Party on verify.
	ParamAPIKey = "api_key"

	// MarkerCookie briefly holds a token id on the Relying Party between
	// the landing redirect and verification.
	MarkerCookie = "sso"
	// SessionCookie holds the Authority's long-lived session credential.
	SessionCookie = "session"

	headerForwardedProto = "X-Forwarded-Proto"
	headerForwardedHost  = "X-Forwarded-Host"
)

// CanonicalOrigin reconstructs the absolute URL the browser requested, with
// every sso pair removed from the query. The remaining pairs keep their order
// and encoding. Forwarded headers are read only when trustForwarded is set.
func CanonicalOrigin(r *http.Request, trustForwarded bool) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if trustForwarded {
		if proto := firstHeaderValue(r, headerForwardedProto); proto == "http" || proto == "https" {
			scheme = proto
		}
		if fh := firstHeaderValue(r, headerForwardedHost); fh != "" {
			host = fh
		}
	}

	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	if q := StripTokenParam(r.URL.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String()
}

func firstHeaderValue(r *http.Request, name string) string {
	v := r.Header.Get(name)
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// StripTokenParam drops every sso pair from a raw query, leaving the other
// pairs byte-for-byte intact.
func StripTokenParam(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	kept := make([]string, 0, strings.Count(rawQuery, "&")+1)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil && k == ParamToken {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

// appendParam adds key=value to a raw query without re-encoding existing pairs.
func appendParam(rawQuery, key, value string) string {
	pair := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	if rawQuery == "" {
		return pair
	}
	return rawQuery + "&" + pair
}

// ParseOrigin validates a caller-supplied origin. Only absolute http(s) URLs
// with a host are accepted.
func ParseOrigin(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "origin is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "origin is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "origin must be an http or https URL")
	}
	if u.Host == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "origin must include a host")
	}
	return u, nil
}

// WithToken returns origin with sso=<id> appended; any sso already present
// is dropped first.
func WithToken(origin *url.URL, id string) string {
	u := *origin
	u.RawQuery = appendParam(StripTokenParam(u.RawQuery), ParamToken, id)
	u.ForceQuery = false
	return u.String()
}

// WithOrigin returns base with origin=<origin> appended.
func WithOrigin(base *url.URL, origin string) string {
	u := *base
	u.RawQuery = appendParam(u.RawQuery, ParamOrigin, origin)
	return u.String()
}

// AuthenticateURL is where a Relying Party sends a browser with no token.
func AuthenticateURL(base *url.URL, origin string) string {
	return WithOrigin(base, origin)
}

// VerifyURL is the back-channel redemption URL for id.
func VerifyURL(base *url.URL, id, apiKey string) string {
	u := *base
	u.RawQuery = appendParam(appendParam(u.RawQuery, ParamToken, id), ParamAPIKey, apiKey)
	return u.String()
}

// Fingerprint identifies a token id in logs without revealing it.
func Fingerprint(id string) string {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:6])
}
