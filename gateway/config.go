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

package gateway

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/30x/k8s-svc-gw-mgr/utils"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/validation"
)

const (
	// DefaultConfPath is the default value for EnvVarConfPath
	DefaultConfPath = "/etc/nginx/conf.d/default.conf"
	// DefaultErrorPage is the default value for EnvVarErrorPage
	DefaultErrorPage = true
	// DefaultFetchRetries is the default value for EnvVarFetchRetries
	DefaultFetchRetries = 2
	// DefaultFetchTimeout is the default value for EnvVarFetchTimeout (seconds)
	DefaultFetchTimeout = 10
	// DefaultHostPort is the default value for EnvVarHostPort
	DefaultHostPort = 80
	// DefaultInterval is the default value for EnvVarInterval (seconds)
	DefaultInterval = 60
	// DefaultLogLevel is the default value for EnvVarLogLevel
	DefaultLogLevel = "info"
	// DefaultManagerPort is the default value for EnvVarManagerPort
	DefaultManagerPort = 9090
	// DefaultPathPort is the default value for EnvVarPathPort
	DefaultPathPort = 80
	// DefaultPrefix is the default value for EnvVarPrefix
	DefaultPrefix = "svcgateway."
	// DefaultReloadCommand is the default value for EnvVarReloadCommand
	DefaultReloadCommand = "/usr/bin/sv hup nginx"
	// DefaultSSLCert is the default value for EnvVarSSLCert
	DefaultSSLCert = "/etc/nginx/ssl/tls.crt"
	// DefaultSSLKey is the default value for EnvVarSSLKey
	DefaultSSLKey = "/etc/nginx/ssl/tls.key"
	// DefaultTLSPort is the default value for EnvVarTLSPort
	DefaultTLSPort = 443
	// EnvVarCAFile Environment variable for providing the CA used to verify the API host
	EnvVarCAFile = "SVC_GW_CA_FILE"
	// EnvVarConfPath Environment variable for providing the generated configuration file path
	EnvVarConfPath = "SVC_GW_CONF_PATH"
	// EnvVarDefaultCIDRs Environment variable for providing the comma separated default CIDRs
	EnvVarDefaultCIDRs = "SVC_GW_DEFAULT_CIDRS"
	// EnvVarErrorPage Environment variable for providing the default error page policy
	EnvVarErrorPage = "SVC_GW_ERROR_PAGE"
	// EnvVarFetchRetries Environment variable for providing the number of registry request retries
	EnvVarFetchRetries = "SVC_GW_FETCH_RETRIES"
	// EnvVarFetchTimeout Environment variable for providing the registry fetch timeout in seconds
	EnvVarFetchTimeout = "SVC_GW_FETCH_TIMEOUT"
	// EnvVarHostPort Environment variable for providing the port host rules are exposed on
	EnvVarHostPort = "SVC_GW_HOST_PORT"
	// EnvVarInterval Environment variable for providing the polling interval in seconds
	EnvVarInterval = "SVC_GW_INTERVAL"
	// EnvVarK8sHost Environment variable for providing the Kubernetes API host
	EnvVarK8sHost = "SVC_GW_K8S_API_HOST"
	// EnvVarK8sHostFallback Environment variable used when EnvVarK8sHost is not set
	EnvVarK8sHostFallback = "KUBERNETES_RO_SERVICE_HOST"
	// EnvVarLabelSelector Environment variable for providing the label selector for routable services
	EnvVarLabelSelector = "SVC_GW_LABEL_SELECTOR"
	// EnvVarLogLevel Environment variable for providing the log level
	EnvVarLogLevel = "SVC_GW_LOG_LEVEL"
	// EnvVarManagerPort Environment variable for providing the port the status server listens on
	EnvVarManagerPort = "SVC_GW_MGR_PORT"
	// EnvVarNamespace Environment variable for providing the namespace to list services in
	EnvVarNamespace = "SVC_GW_NAMESPACE"
	// EnvVarPathPort Environment variable for providing the port path rules are exposed on
	EnvVarPathPort = "SVC_GW_PATH_PORT"
	// EnvVarPrefix Environment variable for providing the annotation prefix
	EnvVarPrefix = "SVC_GW_PREFIX"
	// EnvVarReloadCommand Environment variable for providing the reload command
	EnvVarReloadCommand = "SVC_GW_RELOAD_CMD"
	// EnvVarSSL Environment variable for providing the default TLS policy
	EnvVarSSL = "SVC_GW_SSL"
	// EnvVarSSLCert Environment variable for providing the default certificate path
	EnvVarSSLCert = "SVC_GW_SSL_CERT"
	// EnvVarSSLDHParam Environment variable for providing the default Diffie-Hellman parameters path
	EnvVarSSLDHParam = "SVC_GW_SSL_DHPARAM"
	// EnvVarSSLKey Environment variable for providing the default certificate key path
	EnvVarSSLKey = "SVC_GW_SSL_KEY"
	// EnvVarSSLRedirect Environment variable for providing the default TLS redirect policy
	EnvVarSSLRedirect = "SVC_GW_SSL_REDIRECT"
	// EnvVarTLSPort Environment variable for providing the port TLS rules are exposed on
	EnvVarTLSPort = "SVC_GW_TLS_PORT"
	// EnvVarTemplate Environment variable for providing a custom template file
	EnvVarTemplate = "SVC_GW_TEMPLATE"
	// EnvVarTokenFile Environment variable for providing the bearer token file used against the API host
	EnvVarTokenFile = "SVC_GW_TOKEN_FILE"
	// EnvVarWebsocket Environment variable for providing the default websocket policy
	EnvVarWebsocket = "SVC_GW_WEBSOCKET"
	// ErrMsgTmplInvalidBoolean is the error message template for an invalid boolean
	ErrMsgTmplInvalidBoolean = "%s is an invalid boolean: %s"
	// ErrMsgTmplInvalidCIDR is the error message template for an invalid CIDR
	ErrMsgTmplInvalidCIDR = "%s has an invalid CIDR: %s"
	// ErrMsgTmplInvalidDuration is the error message template for an invalid number of seconds
	ErrMsgTmplInvalidDuration = "%s is an invalid number of seconds: %s"
	// ErrMsgTmplInvalidLabelSelector is the error message template for an invalid label selector
	ErrMsgTmplInvalidLabelSelector = "%s has an invalid label selector: %s"
	// ErrMsgTmplInvalidLogLevel is the error message template for an invalid log level
	ErrMsgTmplInvalidLogLevel = "%s is an invalid log level: %s"
	// ErrMsgTmplInvalidNumber is the error message template for an invalid non-negative number
	ErrMsgTmplInvalidNumber = "%s is an invalid number: %s"
	// ErrMsgTmplInvalidPort is the error message template for an invalid port
	ErrMsgTmplInvalidPort = "%s is an invalid port: %s"
	// ErrMsgTmplInvalidPrefix is the error message template for an invalid annotation prefix
	ErrMsgTmplInvalidPrefix = "%s is an invalid annotation prefix: %s"
	// ManagerAddress is the address the proxy uses to reach the status server
	ManagerAddress = "127.0.0.1"
	// ManagerPath is the path rule routing to the status server
	ManagerPath = "/svc_gw/"
	// ManagerService is the reserved service name of the status server rule
	ManagerService = "svc_gw"
	// ServicesAPIPath is the registry path services are listed from
	ServicesAPIPath = "/api/v1/services"
)

// Flag names mirrored by environment variables
const (
	flagConf      = "conf"
	flagHost      = "host"
	flagInterval  = "interval"
	flagListen    = "listen"
	flagLogLevel  = "log-level"
	flagPrefix    = "prefix"
	flagReloadCmd = "reload-cmd"
	flagTemplate  = "template"
)

/*
NewFlagSet returns the command line flags, every flag falls back to its environment variable when it is not set
*/
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	fs.StringP(flagHost, "H", "", "Kubernetes host to query. Env var $"+EnvVarK8sHost+". Defaults to $"+EnvVarK8sHostFallback+", then the in-cluster configuration.")
	fs.StringP(flagPrefix, "p", "", "Annotation prefix to use. Env var $"+EnvVarPrefix+". Default is \""+DefaultPrefix+"\".")
	fs.StringP(flagInterval, "i", "", "Interval on which to poll for new or removed services in seconds. Env var $"+EnvVarInterval+". Defaults to "+strconv.Itoa(DefaultInterval)+".")
	fs.StringP(flagListen, "l", "", "Port on which the built-in status server should listen. Env var $"+EnvVarManagerPort+". Defaults to "+strconv.Itoa(DefaultManagerPort)+".")
	fs.String(flagConf, "", "Generated configuration file. Env var $"+EnvVarConfPath+". Defaults to "+DefaultConfPath+".")
	fs.String(flagTemplate, "", "Template file replacing the built-in template. Env var $"+EnvVarTemplate+".")
	fs.String(flagReloadCmd, "", "Command reloading the proxy. Env var $"+EnvVarReloadCommand+". Defaults to \""+DefaultReloadCommand+"\".")
	fs.String(flagLogLevel, "", "Log level. Env var $"+EnvVarLogLevel+". Defaults to "+DefaultLogLevel+".")

	return fs
}

/*
ConfigFromEnv returns the configuration based on the environment variables and validates the values
*/
func ConfigFromEnv() (*Config, error) {
	return ConfigFromFlags(nil, os.Getenv)
}

/*
ConfigFromFlags returns the configuration based on the parsed flags, the environment and the defaults (in that order)
and validates the values
*/
func ConfigFromFlags(fs *pflag.FlagSet, getenv func(string) string) (*Config, error) {
	lookup := func(flag, envVar string) string {
		if fs != nil && flag != "" && fs.Changed(flag) {
			value, _ := fs.GetString(flag)

			return value
		}

		return getenv(envVar)
	}

	config := &Config{
		CAFile:        getenv(EnvVarCAFile),
		ConfPath:      lookup(flagConf, EnvVarConfPath),
		K8sHost:       lookup(flagHost, EnvVarK8sHost),
		LogLevel:      lookup(flagLogLevel, EnvVarLogLevel),
		Namespace:     getenv(EnvVarNamespace),
		Prefix:        lookup(flagPrefix, EnvVarPrefix),
		ReloadCommand: lookup(flagReloadCmd, EnvVarReloadCommand),
		SSLCert:       getenv(EnvVarSSLCert),
		SSLDHParam:    getenv(EnvVarSSLDHParam),
		SSLKey:        getenv(EnvVarSSLKey),
		TemplatePath:  lookup(flagTemplate, EnvVarTemplate),
		TokenFile:     getenv(EnvVarTokenFile),
	}

	// Apply defaults
	if config.K8sHost == "" {
		config.K8sHost = getenv(EnvVarK8sHostFallback)
	}

	if config.ConfPath == "" {
		config.ConfPath = DefaultConfPath
	}

	if config.LogLevel == "" {
		config.LogLevel = DefaultLogLevel
	}

	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}

	if config.ReloadCommand == "" {
		config.ReloadCommand = DefaultReloadCommand
	}

	if config.SSLCert == "" {
		config.SSLCert = DefaultSSLCert
	}

	if config.SSLKey == "" {
		config.SSLKey = DefaultSSLKey
	}

	// Validate configuration
	if hclog.LevelFromString(config.LogLevel) == hclog.NoLevel {
		return nil, fmt.Errorf(ErrMsgTmplInvalidLogLevel, EnvVarLogLevel, config.LogLevel)
	}

	if errs := validation.IsQualifiedName(config.Prefix + strconv.Itoa(DefaultPathPort)); len(errs) > 0 {
		return nil, fmt.Errorf(ErrMsgTmplInvalidPrefix, EnvVarPrefix, config.Prefix)
	}

	var err error

	ports := []struct {
		flag     string
		envVar   string
		value    *int
		fallback int
	}{
		{flagListen, EnvVarManagerPort, &config.ManagerPort, DefaultManagerPort},
		{"", EnvVarPathPort, &config.PathPort, DefaultPathPort},
		{"", EnvVarHostPort, &config.HostPort, DefaultHostPort},
		{"", EnvVarTLSPort, &config.TLSPort, DefaultTLSPort},
	}

	for _, port := range ports {
		portStr := lookup(port.flag, port.envVar)

		if portStr == "" {
			*port.value = port.fallback
		} else if *port.value, err = utils.ParsePort(portStr); err != nil {
			return nil, fmt.Errorf(ErrMsgTmplInvalidPort, port.envVar, portStr)
		}
	}

	numbers := []struct {
		flag     string
		envVar   string
		tmpl     string
		value    *int
		fallback int
		min      int
	}{
		{flagInterval, EnvVarInterval, ErrMsgTmplInvalidDuration, &config.Interval, DefaultInterval, 1},
		{"", EnvVarFetchTimeout, ErrMsgTmplInvalidDuration, &config.FetchTimeout, DefaultFetchTimeout, 1},
		{"", EnvVarFetchRetries, ErrMsgTmplInvalidNumber, &config.FetchRetries, DefaultFetchRetries, 0},
	}

	for _, number := range numbers {
		numberStr := lookup(number.flag, number.envVar)

		if numberStr == "" {
			*number.value = number.fallback

			continue
		}

		value, err := strconv.Atoi(strings.TrimSpace(numberStr))

		if err != nil || value < number.min {
			return nil, fmt.Errorf(number.tmpl, number.envVar, numberStr)
		}

		*number.value = value
	}

	booleans := []struct {
		envVar   string
		value    *bool
		fallback bool
	}{
		{EnvVarSSL, &config.SSL, false},
		{EnvVarSSLRedirect, &config.SSLRedirect, false},
		{EnvVarErrorPage, &config.ErrorPage, DefaultErrorPage},
		{EnvVarWebsocket, &config.Websocket, false},
	}

	for _, boolean := range booleans {
		boolStr := getenv(boolean.envVar)

		if boolStr == "" {
			*boolean.value = boolean.fallback
		} else if *boolean.value, err = strconv.ParseBool(strings.TrimSpace(boolStr)); err != nil {
			return nil, fmt.Errorf(ErrMsgTmplInvalidBoolean, boolean.envVar, boolStr)
		}
	}

	if cidrs := getenv(EnvVarDefaultCIDRs); cidrs != "" {
		parsed, invalid := ParseCIDRs(cidrs)

		if invalid != "" {
			return nil, fmt.Errorf(ErrMsgTmplInvalidCIDR, EnvVarDefaultCIDRs, invalid)
		}

		config.DefaultCIDRs = parsed
	}

	selector, err := labels.Parse(getenv(EnvVarLabelSelector))

	if err != nil {
		return nil, fmt.Errorf(ErrMsgTmplInvalidLabelSelector, EnvVarLabelSelector, getenv(EnvVarLabelSelector))
	}

	config.LabelSelector = selector

	return config, nil
}

/*
ExtractionConfig returns the annotation prefixes, the auxiliary prefixes are derived from the rule prefix
("svcgateway." gives "svcgateway-error.", "svcgateway-cidr." and so on)
*/
func (c *Config) ExtractionConfig() ExtractionConfig {
	base := strings.TrimSuffix(c.Prefix, ".")
	aux := func(name string) string {
		return base + "-" + name + "."
	}

	return ExtractionConfig{
		RulePrefix:        c.Prefix,
		ErrorPagePrefix:   aux("error"),
		CIDRPrefix:        aux("cidr"),
		ExposedPortPrefix: aux("port"),
		SSLPrefix:         aux("ssl"),
		SSLRedirectPrefix: aux("ssl-redirect"),
		SSLCertPrefix:     aux("ssl-cert"),
		SSLKeyPrefix:      aux("ssl-key"),
		SSLDHParamPrefix:  aux("ssl-dhparam"),
		WebsocketPrefix:   aux("websocket"),
	}
}

/*
GlobalSettings returns the defaults applied to every rule
*/
func (c *Config) GlobalSettings() GlobalSettings {
	return GlobalSettings{
		DefaultCIDRs: c.DefaultCIDRs,
		PathPort:     c.PathPort,
		HostPort:     c.HostPort,
		TLSPort:      c.TLSPort,
		TLS: TLSSettings{
			Enabled:       c.SSL,
			RedirectToTLS: c.SSLRedirect,
			CertPath:      c.SSLCert,
			KeyPath:       c.SSLKey,
			DHParamPath:   c.SSLDHParam,
		},
		ErrorPage: ErrorPage{
			Enabled: c.ErrorPage,
		},
		Websocket:      c.Websocket,
		ManagerAddress: ManagerAddress,
		ManagerPort:    c.ManagerPort,
	}
}

/*
ServicesURL returns the registry URL services are listed from, for reporting
*/
func (c *Config) ServicesURL() string {
	host := c.K8sHost

	if host == "" {
		host = "https://kubernetes.default.svc"
	} else if !strings.Contains(host, "://") {
		host = "http://" + host
	}

	if c.Namespace != "" {
		return strings.TrimSuffix(host, "/") + "/api/v1/namespaces/" + c.Namespace + "/services"
	}

	return strings.TrimSuffix(host, "/") + ServicesAPIPath
}

/*
ParseCIDRs parses a comma separated CIDR list into a sorted set, returning the first invalid entry when there is one.
Bare IP addresses are accepted as single host blocks.
*/
func ParseCIDRs(value string) ([]string, string) {
	set := mapset.NewThreadUnsafeSet[string]()

	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)

		if entry == "" {
			continue
		}

		if _, _, err := net.ParseCIDR(entry); err != nil && net.ParseIP(entry) == nil {
			return nil, entry
		}

		set.Add(entry)
	}

	if set.Cardinality() == 0 {
		return nil, ""
	}

	cidrs := set.ToSlice()

	sort.Strings(cidrs)

	return cidrs, ""
}
