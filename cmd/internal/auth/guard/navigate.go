package guard

import (
	"log/slog"
	"net/url"
)

// Decision is a verdict plus where to send the viewer.
type Decision struct {
	Verdict  Verdict
	Location string // empty for Allow
}

// Guard resolves paths against a Table.
type Guard struct {
	table *Table
	log   *slog.Logger
}

// New returns a Guard over t, or over DefaultTable when t is nil.
func New(t *Table, log *slog.Logger) *Guard {
	if t == nil {
		t = DefaultTable()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Guard{table: t, log: log}
}

// Table returns the route table in use.
func (g *Guard) Table() *Table { return g.table }

// Navigate checks viewer against the route at p.
func (g *Guard) Navigate(viewer Principal, p string) Decision {
	target := cleanPath(p)
	v := Check(viewer, g.table.Requirement(target))

	d := Decision{Verdict: v}
	switch v {
	case RedirectToLogin:
		d.Location = g.table.Login() + "?next=" + url.QueryEscape(target)
	case RedirectToHome:
		home, ok := g.table.Home(viewer.AccessRole())
		if !ok {
			home = "/"
		}
		d.Location = home
	}

	if v != Allow {
		g.log.Debug("guard.redirect", "path", target, "verdict", v.String(), "location", d.Location)
	}
	return d
}
