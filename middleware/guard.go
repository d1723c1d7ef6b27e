package middleware

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Rare-Specie/authkeeper/gatekeeper"
)

// NoticeParam is the query parameter carrying a redirect notice.
const NoticeParam = "notice"

type decisionContextKey struct{}

// DecisionFromContext returns the decision that admitted the request.
func DecisionFromContext(ctx context.Context) (gatekeeper.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(gatekeeper.Decision)
	return d, ok
}

// Guard resolves every request path against table and applies the
// gatekeeper's decision.
func Guard(gk *gatekeeper.Gatekeeper, table *gatekeeper.Table) func(http.Handler) http.Handler {
	return guard(gk, func(r *http.Request) gatekeeper.Navigation {
		return gatekeeper.Navigation{
			From: table.Lookup(refererPath(r)),
			To:   table.Lookup(r.URL.Path),
		}
	})
}

// RequireRoute guards the wrapped handler as route, whatever the request
// path.
func RequireRoute(gk *gatekeeper.Gatekeeper, route gatekeeper.Route) func(http.Handler) http.Handler {
	return guard(gk, func(r *http.Request) gatekeeper.Navigation {
		to := route
		if to.Path == "" {
			to.Path = r.URL.Path
		}
		return gatekeeper.Navigation{To: to}
	})
}

func guard(gk *gatekeeper.Gatekeeper, navigate func(*http.Request) gatekeeper.Navigation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gk == nil {
				http.Error(w, "page failed to load", http.StatusInternalServerError)
				return
			}

			d := gk.Resolve(r.Context(), navigate(r))
			switch d.Action {
			case gatekeeper.ActionRedirect:
				target := &url.URL{Path: d.Target}
				if d.Notice != nil {
					target.RawQuery = url.Values{NoticeParam: {d.Notice.Message}}.Encode()
				}
				http.Redirect(w, r, target.String(), http.StatusFound)
			case gatekeeper.ActionError:
				http.Error(w, "page failed to load", http.StatusInternalServerError)
			default:
				ctx := context.WithValue(r.Context(), decisionContextKey{}, d)
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

func refererPath(r *http.Request) string {
	ref := r.Referer()
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Host != "" && u.Host != r.Host) {
		return ""
	}
	return u.Path
}
