package nginx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/30x/k8s-svc-gw-mgr/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *gateway.Config {
	return &gateway.Config{
		Prefix:      gateway.DefaultPrefix,
		ManagerPort: gateway.DefaultManagerPort,
		PathPort:    gateway.DefaultPathPort,
		HostPort:    gateway.DefaultHostPort,
		TLSPort:     gateway.DefaultTLSPort,
		SSLCert:     gateway.DefaultSSLCert,
		SSLKey:      gateway.DefaultSSLKey,
		ErrorPage:   true,
	}
}

func derive(t *testing.T, services ...gateway.ServiceRecord) *gateway.Snapshot {
	config := testConfig()
	snapshot, diagnostics := gateway.Derive(services, config.ExtractionConfig(), config.GlobalSettings())

	require.Empty(t, diagnostics)

	return snapshot
}

func render(t *testing.T, snapshot *gateway.Snapshot) string {
	conf, err := DefaultRenderer().Render(snapshot)

	require.NoError(t, err)

	return conf
}

/*
Test for github.com/30x/k8s-svc-gw-mgr/nginx/config#Render with no routable services
*/
func TestRenderNoServices(t *testing.T) {
	expectedConf := `# Generated by the service gateway manager from service annotations, changes are overwritten.

server {
  listen 80;

  # Service svc_gw
  location /svc_gw/ {
    proxy_intercept_errors on;
    error_page 500 502 503 504 /50x.html;
    proxy_pass http://127.0.0.1:9090;
  }
}
`

	assert.Equal(t, expectedConf, render(t, derive(t)))
}

/*
Test for github.com/30x/k8s-svc-gw-mgr/nginx/config#Render with path and host rules
*/
func TestRenderPathAndHostRules(t *testing.T) {
	expectedConf := `# Generated by the service gateway manager from service annotations, changes are overwritten.

server {
  listen 80;

  # Service svc_gw
  location /svc_gw/ {
    proxy_intercept_errors on;
    error_page 500 502 503 504 /50x.html;
    proxy_pass http://127.0.0.1:9090;
  }

  # Service web (namespace: prod)
  location /web/ {
    allow 10.0.0.0/8;
    deny all;
    proxy_set_header Upgrade $http_upgrade;
    proxy_set_header Connection "upgrade";
    proxy_pass http://10.0.0.20:8080;
  }
}

server {
  listen 80;
  server_name api.example.com;
  return 301 https://$host$request_uri;
}

server {
  listen 443 ssl;
  server_name api.example.com;
  ssl_certificate /certs/api.crt;
  ssl_certificate_key /certs/api.key;
  ssl_dhparam /certs/dhparam.pem;

  # Service api (namespace: prod)
  location / {
    proxy_intercept_errors on;
    error_page 500 502 503 504 /errors/api.html;
    proxy_pass http://10.0.0.10:80;
  }
}
`

	actualConf := render(t, derive(t,
		gateway.ServiceRecord{
			Name:      "web",
			Namespace: "prod",
			Address:   "10.0.0.20",
			Ports:     []int32{8080},
			Annotations: map[string]string{
				"svcgateway.8080":           "path:/web/",
				"svcgateway-cidr.8080":      "10.0.0.0/8",
				"svcgateway-websocket.8080": "true",
				"svcgateway-error.8080":     "false",
			},
		},
		gateway.ServiceRecord{
			Name:      "api",
			Namespace: "prod",
			Address:   "10.0.0.10",
			Ports:     []int32{80},
			Annotations: map[string]string{
				"svcgateway.80":              "host:api.example.com",
				"svcgateway-ssl.80":          "true",
				"svcgateway-ssl-redirect.80": "true",
				"svcgateway-ssl-cert.80":     "/certs/api.crt",
				"svcgateway-ssl-key.80":      "/certs/api.key",
				"svcgateway-ssl-dhparam.80":  "/certs/dhparam.pem",
				"svcgateway-error.80":        "/errors/api.html",
			},
		},
	))

	assert.Equal(t, expectedConf, actualConf)
}

/*
Test for github.com/30x/k8s-svc-gw-mgr/nginx/config#Render with path rules exposed on their own TLS port
*/
func TestRenderTLSPathListener(t *testing.T) {
	conf := render(t, derive(t, gateway.ServiceRecord{
		Name:    "secure",
		Address: "10.0.0.30",
		Ports:   []int32{443},
		Annotations: map[string]string{
			"svcgateway.443":     "path:/secure/",
			"svcgateway-ssl.443": "true",
		},
	}))

	assert.Contains(t, conf, "  listen 80;\n")
	assert.Contains(t, conf, "  listen 443 ssl;\n  ssl_certificate "+gateway.DefaultSSLCert+";\n  ssl_certificate_key "+gateway.DefaultSSLKey+";\n\n  # Service secure\n  location /secure/ {")
	assert.NotContains(t, conf, "ssl_dhparam")
	assert.Less(t, strings.Index(conf, "listen 80;"), strings.Index(conf, "listen 443 ssl;"))
}

func redirectService(annotations map[string]string) gateway.ServiceRecord {
	annotations["svcgateway.80"] = "host:api.example.com"
	annotations["svcgateway-ssl.80"] = "true"
	annotations["svcgateway-ssl-redirect.80"] = "true"

	return gateway.ServiceRecord{
		Name:        "api",
		Address:     "10.0.0.10",
		Ports:       []int32{80},
		Annotations: annotations,
	}
}

/*
Test for github.com/30x/k8s-svc-gw-mgr/nginx/config#Render redirecting to a TLS port other than 443
*/
func TestRenderTLSRedirectCustomPort(t *testing.T) {
	conf := render(t, derive(t, redirectService(map[string]string{
		"svcgateway-port.80": "8443",
	})))

	assert.Contains(t, conf, "  listen 80;\n  server_name api.example.com;\n  return 301 https://$host:8443$request_uri;\n")
	assert.Contains(t, conf, "  listen 8443 ssl;\n  server_name api.example.com;\n")
}

/*
Test for github.com/30x/k8s-svc-gw-mgr/nginx/config#Render without a redirect when the TLS server uses the host port
*/
func TestRenderTLSRedirectSkippedOnHostPort(t *testing.T) {
	conf := render(t, derive(t, redirectService(map[string]string{
		"svcgateway-port.80": "80",
	})))

	assert.NotContains(t, conf, "return 301")
	assert.Equal(t, 1, strings.Count(conf, "server_name api.example.com;"))
	assert.Contains(t, conf, "  listen 80 ssl;\n  server_name api.example.com;\n")
}

/*
Test for github.com/30x/k8s-svc-gw-mgr/nginx/config#Render producing identical output for identical snapshots
*/
func TestRenderDeterministic(t *testing.T) {
	services := []gateway.ServiceRecord{}

	for _, name := range []string{"delta", "alpha", "charlie", "bravo"} {
		services = append(services, gateway.ServiceRecord{
			Name:        name,
			Address:     "10.0.0.1",
			Ports:       []int32{80},
			Annotations: map[string]string{"svcgateway.80": "host:" + name + ".example.com"},
		})
	}

	first := render(t, derive(t, services...))

	for i := 0; i < 10; i++ {
		assert.Equal(t, first, render(t, derive(t, services...)))
	}

	assert.Less(t, strings.Index(first, "alpha.example.com"), strings.Index(first, "bravo.example.com"))
	assert.Less(t, strings.Index(first, "charlie.example.com"), strings.Index(first, "delta.example.com"))
}

/*
Test for github.com/30x/k8s-svc-gw-mgr/nginx/config#NewRenderer with a custom template using sprig functions
*/
func TestNewRendererCustomTemplate(t *testing.T) {
	r, err := NewRenderer("custom", `{{range .PathRules}}{{.Service | upper}}={{.Match}};{{end}}{{len .HostRules}}`)

	require.NoError(t, err)

	conf, err := r.Render(derive(t))

	require.NoError(t, err)
	assert.Equal(t, "SVC_GW=/svc_gw/;0", conf)
}

/*
Test for github.com/30x/k8s-svc-gw-mgr/nginx/config#NewRenderer with invalid templates
*/
func TestNewRendererInvalidTemplate(t *testing.T) {
	_, err := NewRenderer("broken", `{{range .PathRules}}`)

	assert.Error(t, err)

	r, err := NewRenderer("missing-field", `{{.NoSuchField}}`)

	require.NoError(t, err)

	_, err = r.Render(derive(t))

	assert.Error(t, err)
}

/*
Test for github.com/30x/k8s-svc-gw-mgr/nginx/config#NewRendererFromFile
*/
func TestNewRendererFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nginx.conf.tmpl")

	require.NoError(t, os.WriteFile(path, []byte(`listen {{.Settings.PathPort}};`), 0644))

	r, err := NewRendererFromFile(path)

	require.NoError(t, err)

	conf, err := r.Render(derive(t))

	require.NoError(t, err)
	assert.Equal(t, "listen 80;", conf)

	_, err = NewRendererFromFile(filepath.Join(t.TempDir(), "missing.tmpl"))

	assert.Error(t, err)
}
