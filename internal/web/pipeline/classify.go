package pipeline

import "strings"

// RouteClass is the security classification of a request path.
type RouteClass int

const (
	// ClassStandard paths get CSRF protection and session refresh but no
	// step-up requirement.
	ClassStandard RouteClass = iota
	// ClassExempt paths bypass CSRF and the two-factor gate entirely:
	// auth endpoints, static assets, health probes, the token endpoint.
	ClassExempt
	// ClassTwoFactor paths additionally require a step-up verified session.
	ClassTwoFactor
)

func (c RouteClass) String() string {
	switch c {
	case ClassExempt:
		return "exempt"
	case ClassTwoFactor:
		return "two_factor"
	default:
		return "standard"
	}
}

// Classifier maps request paths to route classes by longest-wins prefix
// tables. Exemption takes priority: a path matching both tables is exempt,
// so the auth surface itself can never demand a verified session.
type Classifier struct {
	ExemptPrefixes    []string
	TwoFactorPrefixes []string
}

// NewClassifier returns a classifier with the default prefix tables,
// with extra two-factor prefixes appended.
func NewClassifier(extraTwoFactor ...string) *Classifier {
	return &Classifier{
		ExemptPrefixes: []string{
			"/auth/",
			"/static/",
			"/assets/",
			"/livez",
			"/readyz",
			"/csrf",
		},
		TwoFactorPrefixes: append([]string{
			"/admin/",
			"/settings/security",
			"/v1/sessions",
		}, extraTwoFactor...),
	}
}

// Classify is pure: the class depends only on the path.
func (c *Classifier) Classify(path string) RouteClass {
	for _, prefix := range c.ExemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return ClassExempt
		}
	}
	for _, prefix := range c.TwoFactorPrefixes {
		if strings.HasPrefix(path, prefix) {
			return ClassTwoFactor
		}
	}
	return ClassStandard
}
