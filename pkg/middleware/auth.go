package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/contextkeys"
	"github.com/stocklane/stocklane/pkg/httputil"
	"github.com/stocklane/stocklane/pkg/observability"
)

const bearerPrefix = "Bearer "

// TokenValidator verifies token signatures and extracts subjects.
// *auth.TokenIssuer satisfies this interface.
type TokenValidator interface {
	Validate(token string) bool
	Subject(token string) (string, error)
}

// PublicPathChecker decides whether a request path is exempt from
// authentication. Requests to public paths never touch the validator
// or the principal directory.
type PublicPathChecker interface {
	IsPublic(path string) bool
}

// PrefixList is a PublicPathChecker matching on path prefixes.
type PrefixList []string

// IsPublic reports whether path starts with any of the listed prefixes.
func (p PrefixList) IsPublic(path string) bool {
	for _, prefix := range p {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Authenticator resolves a bearer token into a Principal and attaches
// it to the request context. It never rejects a request: when the
// token is missing, invalid, expired, or names an unknown user, the
// request continues without a principal. Rejection is the job of
// RequireAuthenticated and RequireAuthority applied per route.
type Authenticator struct {
	validator TokenValidator
	directory auth.Directory
	public    PublicPathChecker
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewAuthenticator creates an authenticator. public may be nil when
// the server has no unauthenticated routes; metrics may be nil.
func NewAuthenticator(validator TokenValidator, directory auth.Directory, public PublicPathChecker, logger *observability.Logger, metrics *observability.Metrics) *Authenticator {
	return &Authenticator{
		validator: validator,
		directory: directory,
		public:    public,
		logger:    logger,
		metrics:   metrics,
	}
}

// Authenticate resolves the raw Authorization header value into a
// Principal. The boolean reports whether authentication succeeded;
// failures carry no detail by design, a caller cannot distinguish a
// missing header from a bad signature or an unknown user.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*auth.Principal, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		a.count(observability.AuthOutcomeAnonymous)
		return nil, false
	}
	token := strings.TrimPrefix(header, bearerPrefix)

	if !a.validator.Validate(token) {
		a.count(observability.AuthOutcomeInvalid)
		return nil, false
	}

	username, err := a.validator.Subject(token)
	if err != nil {
		a.count(observability.AuthOutcomeInvalid)
		return nil, false
	}

	principal, err := a.directory.LookupPrincipal(ctx, username)
	if err != nil {
		a.count(observability.AuthOutcomeUnknownUser)
		if a.logger != nil {
			a.logger.WithField("username", username).Debug("principal lookup failed")
		}
		return nil, false
	}

	a.count(observability.AuthOutcomeAuthenticated)
	return principal, true
}

// Handler returns the authentication middleware. Public paths are
// passed through untouched. All other requests go through
// Authenticate; on success the principal is attached to the request
// context exactly once, on failure the request proceeds anonymously.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.public != nil && a.public.IsPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		principal, ok := a.authenticateRequest(r)
		if ok {
			r = r.WithContext(contextkeys.WithPrincipal(r.Context(), principal))
		}
		next.ServeHTTP(w, r)
	})
}

// authenticateRequest wraps Authenticate so that a panic anywhere in
// token handling degrades to an anonymous request instead of a 500.
func (a *Authenticator) authenticateRequest(r *http.Request) (principal *auth.Principal, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			if a.logger != nil {
				a.logger.WithField("panic", rec).Error("authentication panicked")
			}
			principal, ok = nil, false
		}
	}()
	return a.Authenticate(r.Context(), r.Header.Get("Authorization"))
}

func (a *Authenticator) count(outcome string) {
	if a.metrics != nil {
		a.metrics.AuthAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

// PrincipalFromRequest returns the principal attached by the
// Authenticator, or nil for anonymous requests.
func PrincipalFromRequest(r *http.Request) *auth.Principal {
	return PrincipalFromContext(r.Context())
}

// PrincipalFromContext returns the principal stored in ctx, or nil.
func PrincipalFromContext(ctx context.Context) *auth.Principal {
	principal, _ := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal)
	return principal
}

// RequireAuthenticated rejects anonymous requests with 401.
func RequireAuthenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFromRequest(r) == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next(w, r)
	}
}

// RequireAuthority rejects requests whose principal lacks the given
// authority. Anonymous requests get 401, authenticated requests
// without the authority get 403.
func RequireAuthority(authority auth.Authority, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := PrincipalFromRequest(r)
		if principal == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !principal.HasAuthority(authority) {
			httputil.WriteForbidden(w, "insufficient authority")
			return
		}
		next(w, r)
	}
}

// RequireAnyAuthority rejects requests whose principal holds none of
// the given authorities.
func RequireAnyAuthority(authorities []auth.Authority, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := PrincipalFromRequest(r)
		if principal == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		for _, authority := range authorities {
			if principal.HasAuthority(authority) {
				next(w, r)
				return
			}
		}
		httputil.WriteForbidden(w, "insufficient authority")
	}
}
