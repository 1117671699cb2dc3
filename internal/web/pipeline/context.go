package pipeline

import (
	"net/http"

	"github.com/steepleworks/steeple/internal/web/domain"
)

// Context carries one request's state through the stages. Each request gets
// its own Context; stages communicate only through it, never through shared
// package state.
type Context struct {
	Request *http.Request

	// Session is the authenticated session, nil for anonymous requests.
	// Populated by the session stage.
	Session *domain.Session

	// Class is the route classification. Populated by the classify stage.
	Class RouteClass

	// Nonce is the per-request CSP nonce, set by the orchestrator before
	// any stage runs.
	Nonce string

	cookies []*http.Cookie
}

// SetCookie queues a cookie for the response. Cookies are applied by the
// orchestrator on every outcome, so lazily issued CSRF cookies survive even
// a downstream rejection.
func (c *Context) SetCookie(ck *http.Cookie) {
	c.cookies = append(c.cookies, ck)
}

// Decision is what a stage wants done with the request.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionReject
	DecisionRedirect
)

// Outcome is a stage's verdict. Reject carries a status plus a machine
// readable code and human readable description for the JSON error body;
// Redirect carries a target location.
type Outcome struct {
	Decision    Decision
	Status      int
	Code        string
	Description string
	Location    string
}

// Allow lets the request continue to the next stage.
func Allow() Outcome {
	return Outcome{Decision: DecisionAllow}
}

// Reject short-circuits the pipeline with a JSON error response.
func Reject(status int, code, description string) Outcome {
	return Outcome{Decision: DecisionReject, Status: status, Code: code, Description: description}
}

// Redirect short-circuits the pipeline with a 303 to location.
func Redirect(location string) Outcome {
	return Outcome{Decision: DecisionRedirect, Status: http.StatusSeeOther, Location: location}
}

// Stage is one step of the security pipeline. Evaluate must be safe to run
// concurrently across requests; any per-request state belongs on Context.
type Stage interface {
	Name() string
	Evaluate(pc *Context) Outcome
}
