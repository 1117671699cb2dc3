package http

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/steepleworks/steeple/internal/web/pipeline"
)

var challengeTmpl = template.Must(template.New("challenge").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Verify it's you</title></head>
<body>
<h1>Verify it's you</h1>
<p>Enter the six digit code from your authenticator app, or one of your backup codes.</p>
<form id="challenge">
  <input name="code" autocomplete="one-time-code" autofocus>
  <button type="submit">Verify</button>
</form>
<p id="status"></p>
<script nonce="{{.Nonce}}">
const returnTo = {{.ReturnTo}};
document.getElementById("challenge").addEventListener("submit", async (e) => {
  e.preventDefault();
  const csrf = await fetch("/csrf").then(r => r.json());
  const resp = await fetch("/v1/2fa/verify", {
    method: "POST",
    headers: {"Content-Type": "application/json", [csrf.header]: csrf.csrf_token},
    body: JSON.stringify({code: e.target.code.value.trim()}),
  });
  if (resp.ok) {
    window.location = returnTo;
  } else {
    document.getElementById("status").textContent = "That code was not accepted.";
  }
});
</script>
</body>
</html>
`))

// ChallengePageHandler serves GET /auth/2fa, the step-up challenge page.
// The return_to parameter is restricted to local paths so the page cannot
// be used as an open redirect.
func ChallengePageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		returnTo := r.URL.Query().Get("return_to")
		if !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") {
			returnTo = "/"
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = challengeTmpl.Execute(w, map[string]string{
			"Nonce":    pipeline.NonceFromContext(r.Context()),
			"ReturnTo": returnTo,
		})
	}
}

// AppHandler stands in for the community application behind the pipeline.
func AppHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<!doctype html><html><body><h1>Steeple</h1></body></html>\n"))
	}
}
