package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dkeye/voicectl/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// FallbackUserID stands in for tokens that carry no usable user id.
const FallbackUserID domain.UserID = "temp_id"

// Claims is the subset of the access token the client relies on.
type Claims struct {
	UserID    domain.UserID
	ExpiresAt *int64
}

// ParseClaims decodes the token payload without verifying its signature; the
// client never holds the issuer's key and treats the token as opaque otherwise.
func ParseClaims(token string) (*Claims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedCredential, err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", domain.ErrMalformedCredential)
	}

	c := &Claims{UserID: userID(mc)}

	switch exp := mc["exp"].(type) {
	case nil:
	case float64:
		v := int64(exp)
		c.ExpiresAt = &v
	case string:
		// legacy issuers sent an ISO-8601 instant
		t, err := time.Parse(time.RFC3339, exp)
		if err != nil {
			return nil, fmt.Errorf("%w: exp %q: %v", domain.ErrMalformedCredential, exp, err)
		}
		v := t.Unix()
		c.ExpiresAt = &v
	default:
		return nil, fmt.Errorf("%w: unsupported exp type %T", domain.ErrMalformedCredential, exp)
	}
	return c, nil
}

// userID reads user_id, which some issuers encode as a number, then sub.
func userID(mc jwt.MapClaims) domain.UserID {
	switch id := mc["user_id"].(type) {
	case string:
		if id != "" {
			return domain.UserID(id)
		}
	case float64:
		return domain.UserID(strconv.FormatFloat(id, 'f', -1, 64))
	}
	if sub, ok := mc["sub"].(string); ok && sub != "" {
		return domain.UserID(sub)
	}
	return FallbackUserID
}
