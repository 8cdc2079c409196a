// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package keyservice

import (
	"html/template"
	"net/http"
)

// formTemplate is deliberately spartan: no scripts, no external
// resources, so the CSP can forbid everything.
var formTemplate = template.Must(template.New("form").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>spawn credentials</title></head>
<body>
<h1>Provider credentials</h1>
<p>This link expires at {{.Expires}} and stops working once every provider below is fulfilled.</p>
<form method="post" action="{{.Action}}">
{{range .Providers}}
<fieldset>
<legend>{{.Name}}</legend>
{{$key := .Key}}
{{range .Vars}}
<label>{{.}} <input type="password" name="{{$key}}.{{.}}" autocomplete="off"></label><br>
{{end}}
</fieldset>
{{end}}
<button type="submit">Submit</button>
</form>
</body>
</html>
`))

type formProvider struct {
	Key  string
	Name string
	Vars []string
}

// form renders the credential entry page behind a valid signed link.
func (s *Service) form(w http.ResponseWriter, req *http.Request) {
	b, status := s.lookupBatch(req)
	if b == nil {
		writeJSON(w, status, map[string]any{"error": http.StatusText(status)})
		return
	}

	s.mu.Lock()
	providers := make([]formProvider, 0, len(b.Providers))
	for _, key := range b.Providers {
		if b.fulfilled[key] {
			continue
		}
		def := s.cfg.Manifest.Clouds[key]
		providers = append(providers, formProvider{
			Key:  key,
			Name: def.Name,
			Vars: def.AuthVars(),
		})
	}
	expires := b.Expires.UTC().Format("2006-01-02 15:04 UTC")
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; form-action 'self'; base-uri 'none'")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_ = formTemplate.Execute(w, map[string]any{
		"Expires":   expires,
		"Action":    req.URL.RequestURI(),
		"Providers": providers,
	})
}
