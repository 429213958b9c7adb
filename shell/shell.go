package shell

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"github.com/hashicorp/go-hclog"
)

// View renders a piece of the page.
type View interface {
	Render(w io.Writer, r *http.Request) error
}

// ViewFunc adapts a function to a View.
type ViewFunc func(w io.Writer, r *http.Request) error

// Render calls f(w, r).
func (f ViewFunc) Render(w io.Writer, r *http.Request) error { return f(w, r) }

var shellTmpl = template.Must(template.New("shell").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<div class="App">{{.Child}}</div>
</body>
</html>
`))

// Shell returns the handler that renders the app page with child mounted
// inside the app div.
//
// Supported options: WithLogger
func Shell(title string, child View, opt ...Option) (http.Handler, error) {
	const op = "shell.Shell"
	if child == nil {
		return nil, fmt.Errorf("%s: child view is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &shell{title: title, child: child, logger: opts.withLogger}, nil
}

type shell struct {
	title  string
	child  View
	logger hclog.Logger
}

func (s *shell) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var child bytes.Buffer
	if err := s.child.Render(&child, r); err != nil {
		s.logger.Error("unable to render view", "path", r.URL.Path, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	var page bytes.Buffer
	data := struct {
		Title string
		Child template.HTML
	}{
		Title: s.title,
		Child: template.HTML(child.String()),
	}
	if err := shellTmpl.Execute(&page, data); err != nil {
		s.logger.Error("unable to render shell", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page.Bytes())
}

// ReportSource lists the reports shown by the ReportPage.
type ReportSource interface {
	ReportTitles(ctx context.Context) ([]string, error)
}

var reportTmpl = template.Must(template.New("reports").Parse(`<section class="reports">
{{- if .Authenticated}}
<p class="user">{{.User}}</p>
<ul>
{{- range .Titles}}
<li class="report">{{.}}</li>
{{- else}}
<li class="empty">No reports</li>
{{- end}}
</ul>
<a class="logout" href="{{.LogoutPath}}">Sign out</a>
{{- else}}
<a class="login" href="{{.LoginPath}}">Sign in</a>
{{- end}}
</section>`))

// ReportPage is the report view. Signed in users see the report titles,
// anonymous users a sign in link.
func ReportPage(reports ReportSource, loginPath, logoutPath string) View {
	return ViewFunc(func(w io.Writer, r *http.Request) error {
		const op = "shell.ReportPage"
		state := FromContext(r.Context())
		data := struct {
			Authenticated bool
			User          string
			Titles        []string
			LoginPath     string
			LogoutPath    string
		}{
			Authenticated: state.Authenticated,
			LoginPath:     loginPath,
			LogoutPath:    logoutPath,
		}
		if state.Authenticated && state.Claims != nil {
			data.User = state.Claims.PreferredUsername
			if data.User == "" {
				data.User = state.Claims.Email
			}
		}
		if state.Authenticated && reports != nil {
			titles, err := reports.ReportTitles(r.Context())
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			data.Titles = titles
		}
		if err := reportTmpl.Execute(w, data); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}
