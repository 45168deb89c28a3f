// Package referral extracts and validates referral codes from shared links.
package referral

import (
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"

	apperrors "github.com/referral-dashboard/internal/errors"
)

// QueryParam is the query parameter carrying a referral code
const QueryParam = "ref"

// pathMarkers are path segments followed by a referral code
var pathMarkers = map[string]bool{"ref": true, "referral": true, "r": true}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Sanitize strips every character outside [a-zA-Z0-9_-]
func Sanitize(code string) string {
	return unsafeChars.ReplaceAllString(code, "")
}

// ParseLink extracts the referral code from a link. The query parameter wins
// over a path segment. Links without a scheme are treated as https.
// ok is false when the link carries no usable code.
func ParseLink(link string) (code string, ok bool, err error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", false, nil
	}
	if !strings.HasPrefix(link, "http") {
		link = "https://" + link
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", false, apperrors.NewInvalidParameterError("link", err.Error())
	}

	if ref := u.Query().Get(QueryParam); ref != "" {
		code = Sanitize(ref)
		return code, code != "", nil
	}

	parts := strings.Split(u.Path, "/")
	for i, part := range parts {
		if pathMarkers[part] && i+1 < len(parts) && parts[i+1] != "" {
			code = Sanitize(parts[i+1])
			return code, code != "", nil
		}
	}
	return "", false, nil
}

// ParseCode converts a referral code to the positive user id it names
func ParseCode(code string) (*big.Int, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.NewInvalidParameterError("referralCode", "code is empty")
	}
	id, ok := new(big.Int).SetString(code, 10)
	if !ok {
		return nil, apperrors.NewInvalidParameterError("referralCode", fmt.Sprintf("%q is not an integer", code))
	}
	if id.Sign() <= 0 {
		return nil, apperrors.NewInvalidParameterError("referralCode", "code must be positive")
	}
	return id, nil
}

// BuildLink returns base with the referral query parameter set to userID
func BuildLink(base string, userID uint64) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", apperrors.NewInvalidParameterError("base", err.Error())
	}
	q := u.Query()
	q.Set(QueryParam, fmt.Sprint(userID))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
