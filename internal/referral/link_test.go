package referral

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/referral-dashboard/internal/errors"
)

func TestParseLink(t *testing.T) {
	tests := []struct {
		name   string
		link   string
		want   string
		wantOK bool
	}{
		{"query parameter", "https://dapp.example/register?ref=42", "42", true},
		{"no scheme", "dapp.example/?ref=7", "7", true},
		{"ref path", "https://dapp.example/ref/15", "15", true},
		{"referral path", "https://dapp.example/app/referral/abc_1-2", "abc_1-2", true},
		{"short path", "https://dapp.example/r/9/extra", "9", true},
		{"query wins", "https://dapp.example/ref/1?ref=2", "2", true},
		{"sanitized", "https://dapp.example/?ref=4%3Cscript%3E2", "4script2", true},
		{"sanitized to nothing", "https://dapp.example/?ref=%3C%3E", "", false},
		{"marker without code", "https://dapp.example/ref/", "", false},
		{"no code", "https://dapp.example/dashboard", "", false},
		{"empty", "  ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok, err := ParseLink(tt.link)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestParseLink_Malformed(t *testing.T) {
	_, _, err := ParseLink("https://dapp.example/%zz")
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryValidation, apperrors.CategoryOf(err))
}

func TestParseCode(t *testing.T) {
	id, err := ParseCode(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id.Int64())

	for _, bad := range []string{"", "0", "-3", "abc", "1.5"} {
		_, err := ParseCode(bad)
		assert.Error(t, err, bad)
		assert.Equal(t, apperrors.CategoryValidation, apperrors.CategoryOf(err), bad)
	}
}

func TestBuildLink(t *testing.T) {
	link, err := BuildLink("https://dapp.example/register?lang=en", 12)
	require.NoError(t, err)
	assert.Equal(t, "https://dapp.example/register?lang=en&ref=12", link)

	code, ok, err := ParseLink(link)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "12", code)
}

func TestSanitizeProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("sanitized codes only contain safe characters", prop.ForAll(
		func(s string) bool {
			return !unsafeChars.MatchString(Sanitize(s))
		},
		gen.AnyString(),
	))

	properties.Property("sanitize is idempotent", prop.ForAll(
		func(s string) bool {
			once := Sanitize(s)
			return Sanitize(once) == once
		},
		gen.AnyString(),
	))

	properties.Property("safe codes survive unchanged", prop.ForAll(
		func(s string) bool {
			return Sanitize(s) == s
		},
		gen.RegexMatch(`[a-zA-Z0-9_-]{0,16}`),
	))

	properties.TestingRun(t)
}
