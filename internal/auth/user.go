package auth

// User identifies the principal behind a JWT, API key, or OAuth login.
// trust5 runs as a local pipeline engine, not a multi-tenant service, so
// User exists mainly to carry an identity into emitted events and audit
// records — there is no user database beyond the configured API keys and
// OAuth-derived profiles.
type User struct {
	ID    string
	Email string
	Name  string
}
