package gatekeeper

import (
	"slices"
	"sort"
	"strings"

	"github.com/Rare-Specie/authkeeper/model"
)

// Route describes a navigation target.
type Route struct {
	Path         string
	Name         string
	RequiresAuth bool
	// Roles limits the route to these roles. Empty means any signed-in user.
	Roles []model.Role
}

// Permits reports whether role may enter r.
func (r Route) Permits(role model.Role) bool {
	return len(r.Roles) == 0 || slices.Contains(r.Roles, role)
}

// Table resolves request paths to routes by longest path-segment prefix.
type Table struct {
	routes   []Route
	fallback Route
}

// NewTable returns a table over routes. Paths that match nothing resolve to
// a protected route with no role limits.
func NewTable(routes ...Route) *Table {
	t := &Table{routes: slices.Clone(routes)}
	sort.SliceStable(t.routes, func(i, j int) bool {
		return len(t.routes[i].Path) > len(t.routes[j].Path)
	})
	t.fallback = Route{RequiresAuth: true}
	return t
}

// Lookup returns the route for path. The returned route carries the
// requested path, not the prefix it matched.
func (t *Table) Lookup(path string) Route {
	if path == "" {
		path = "/"
	}
	for _, r := range t.routes {
		if matches(r.Path, path) {
			r.Path = path
			return r
		}
	}
	r := t.fallback
	r.Path = path
	return r
}

// Routes returns the registered routes, longest prefix first.
func (t *Table) Routes() []Route {
	return slices.Clone(t.routes)
}

func matches(prefix, path string) bool {
	if prefix == "/" {
		return path == "/"
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}

// DefaultRoutes is the school-manager route map: a public login page at "/"
// and everything under "/main" behind login. Only the admin pages check the
// role; the backend enforces everything finer.
func DefaultRoutes() *Table {
	return NewTable(
		Route{Path: "/", Name: "login"},
		Route{Path: "/main", Name: "main", RequiresAuth: true},
		Route{Path: "/main/profile", Name: "profile", RequiresAuth: true},
		Route{Path: "/main/students", Name: "student-list", RequiresAuth: true},
		Route{Path: "/main/courses", Name: "course-list", RequiresAuth: true},
		Route{Path: "/main/grades/input", Name: "grade-input", RequiresAuth: true},
		Route{Path: "/main/grades/query", Name: "grade-query", RequiresAuth: true},
		Route{Path: "/main/statistics", Name: "statistics", RequiresAuth: true},
		Route{Path: "/main/reports", Name: "reports", RequiresAuth: true},
		Route{Path: "/main/admin", Name: "admin", RequiresAuth: true, Roles: []model.Role{model.RoleAdmin}},
	)
}
