package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	c := NewClassifier()

	cases := []struct {
		path string
		want RouteClass
	}{
		{"/", ClassStandard},
		{"/posts/123", ClassStandard},
		{"/auth/login", ClassExempt},
		{"/auth/2fa", ClassExempt},
		{"/static/app.js", ClassExempt},
		{"/assets/logo.png", ClassExempt},
		{"/livez", ClassExempt},
		{"/readyz", ClassExempt},
		{"/csrf", ClassExempt},
		{"/admin/", ClassTwoFactor},
		{"/admin/users", ClassTwoFactor},
		{"/settings/security", ClassTwoFactor},
		{"/settings/security/backup-codes", ClassTwoFactor},
		{"/v1/sessions", ClassTwoFactor},
		{"/v1/sessions/revoke-others", ClassTwoFactor},
		{"/settings/profile", ClassStandard},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, c.Classify(tc.path), "path %s", tc.path)
	}
}

func TestClassifyExtraPrefixes(t *testing.T) {
	t.Parallel()

	c := NewClassifier("/billing/")
	require.Equal(t, ClassTwoFactor, c.Classify("/billing/cards"))
	require.Equal(t, ClassStandard, c.Classify("/billing"))
}

func TestClassifyExemptionWins(t *testing.T) {
	t.Parallel()

	c := NewClassifier("/auth/")
	require.Equal(t, ClassExempt, c.Classify("/auth/2fa"),
		"the auth surface can never require a verified session")
}
