/*
Copyright © 2016 Apigee Corporation

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package nginx

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"text/template"

	"github.com/30x/k8s-svc-gw-mgr/gateway"

	"github.com/Masterminds/sprig/v3"
)

const (
	tlsTmpl = `{{define "tls"}}{{if .Enabled}}
  ssl_certificate {{.CertPath}};
  ssl_certificate_key {{.KeyPath}};
{{- if .DHParamPath}}
  ssl_dhparam {{.DHParamPath}};
{{- end}}{{end}}{{end}}`
	locationTmpl = `{{define "location"}}
{{- range $cidr := .AllowedCIDRs}}
    allow {{$cidr}};
{{- end}}
{{- if .AllowedCIDRs}}
    deny all;
{{- end}}
{{- if .WebsocketEnabled}}
    proxy_set_header Upgrade $http_upgrade;
    proxy_set_header Connection "upgrade";
{{- end}}
{{- if .ErrorPage.Enabled}}
    proxy_intercept_errors on;
    error_page 500 502 503 504 {{if .ErrorPage.Custom}}{{.ErrorPage.Custom}}{{else}}` + DefaultErrorPagePath + `{{end}};
{{- end}}
    proxy_pass http://{{.TargetAddress}}:{{.TargetPort}};
{{- end}}`
	// DefaultConfTmpl is the built-in template, it produces server blocks for the http context (conf.d)
	DefaultConfTmpl = tlsTmpl + locationTmpl + `# Generated by the service gateway manager from service annotations, changes are overwritten.
{{- range $listener := .PathListeners}}

server {
  listen {{$listener.Port}}{{if $listener.TLS.Enabled}} ssl{{end}};
{{- template "tls" $listener.TLS}}
{{- range $rule := $listener.Rules}}

  # Service {{$rule.Service}}{{if $rule.Namespace}} (namespace: {{$rule.Namespace}}){{end}}
  location {{$rule.Match}} {
{{- template "location" $rule}}
  }
{{- end}}
}
{{- end}}
{{- range $rule := .HostRules}}
{{- if and $rule.TLS.Enabled $rule.TLS.RedirectToTLS (ne $rule.ExposedPort $.Settings.HostPort)}}

server {
  listen {{$.Settings.HostPort}};
  server_name {{$rule.Match}};
  return 301 https://$host{{if ne $rule.ExposedPort 443}}:{{$rule.ExposedPort}}{{end}}$request_uri;
}
{{- end}}

server {
  listen {{$rule.ExposedPort}}{{if $rule.TLS.Enabled}} ssl{{end}};
  server_name {{$rule.Match}};
{{- template "tls" $rule.TLS}}

  # Service {{$rule.Service}}{{if $rule.Namespace}} (namespace: {{$rule.Namespace}}){{end}}
  location / {
{{- template "location" $rule}}
  }
}
{{- end}}
`
	// DefaultErrorPagePath is the error page used when a rule enables error pages without providing one
	DefaultErrorPagePath = "/50x.html"
)

var defaultRenderer *Renderer

/*
Renderer turns a snapshot into nginx configuration
*/
type Renderer struct {
	tmpl *template.Template
}

func init() {
	// Parse the built-in template
	r, err := NewRenderer("nginx-default", DefaultConfTmpl)

	if err != nil {
		log.Fatalf("Failed to parse the default nginx template: %v.", err)
	}

	defaultRenderer = r
}

/*
NewRenderer parses the provided template, the sprig functions are available to it
*/
func NewRenderer(name, text string) (*Renderer, error) {
	t, err := template.New(name).Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(text)

	if err != nil {
		return nil, err
	}

	return &Renderer{tmpl: t}, nil
}

/*
NewRendererFromFile parses the template stored in the provided file
*/
func NewRendererFromFile(path string) (*Renderer, error) {
	text, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("Failed to read template %s: %w", path, err)
	}

	return NewRenderer(path, string(text))
}

/*
DefaultRenderer returns the renderer using the built-in template
*/
func DefaultRenderer() *Renderer {
	return defaultRenderer
}

/*
Render executes the template against the snapshot
*/
func (r *Renderer) Render(snapshot *gateway.Snapshot) (string, error) {
	var doc bytes.Buffer

	if err := r.tmpl.Execute(&doc, snapshot); err != nil {
		return "", fmt.Errorf("Failed to execute template %s: %w", r.tmpl.Name(), err)
	}

	return doc.String(), nil
}
