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

	"k8s.io/apimachinery/pkg/labels"
)

/*
Config is the structure containing the configuration, resolved once at startup
*/
type Config struct {
	// The Kubernetes API host to query (empty means in-cluster)
	K8sHost string
	// The bearer token file used to authenticate against K8sHost
	TokenFile string
	// The CA file used to verify K8sHost
	CAFile string
	// The namespace to list services in (empty means all namespaces)
	Namespace string
	// The label selector used to identify routable services
	LabelSelector labels.Selector
	// How long a single registry fetch may take (in seconds)
	FetchTimeout int
	// How many times a failed registry request is retried
	FetchRetries int
	// The annotation prefix marking a routing rule
	Prefix string
	// How often the registry is polled (in seconds)
	Interval int
	// The port the built-in status server listens on
	ManagerPort int
	// The generated configuration file
	ConfPath string
	// Optional template file overriding the built-in template
	TemplatePath string
	// The command used to make the proxy reload its configuration
	ReloadCommand string
	// The log level
	LogLevel string
	// CIDRs applied to rules without their own CIDR annotation
	DefaultCIDRs []string
	// The port path rules are exposed on
	PathPort int
	// The port host rules are exposed on
	HostPort int
	// The port TLS rules are exposed on when no port annotation is present
	TLSPort int
	// Whether TLS is enabled when no ssl annotation is present
	SSL bool
	// Whether plain requests are redirected to TLS when no ssl-redirect annotation is present
	SSLRedirect bool
	// Default certificate path
	SSLCert string
	// Default certificate key path
	SSLKey string
	// Default Diffie-Hellman parameters path
	SSLDHParam string
	// Whether error pages are enabled when no error annotation is present
	ErrorPage bool
	// Whether websockets are enabled when no websocket annotation is present
	Websocket bool
}

/*
ExtractionConfig holds the annotation prefixes used to derive rules
*/
type ExtractionConfig struct {
	RulePrefix        string
	ErrorPagePrefix   string
	CIDRPrefix        string
	ExposedPortPrefix string
	SSLPrefix         string
	SSLRedirectPrefix string
	SSLCertPrefix     string
	SSLKeyPrefix      string
	SSLDHParamPrefix  string
	WebsocketPrefix   string
}

/*
GlobalSettings holds the defaults applied when a service does not provide its own annotation
*/
type GlobalSettings struct {
	DefaultCIDRs   []string
	PathPort       int
	HostPort       int
	TLSPort        int
	TLS            TLSSettings
	ErrorPage      ErrorPage
	Websocket      bool
	ManagerAddress string
	ManagerPort    int
}

/*
ServiceRecord is a service as returned by the registry
*/
type ServiceRecord struct {
	Name        string
	Namespace   string
	Address     string
	Ports       []int32
	Annotations map[string]string
}

/*
RuleKind identifies which collection a rule belongs to
*/
type RuleKind string

const (
	// PathRule routes by URL path prefix
	PathRule RuleKind = "path"
	// HostRule routes by hostname
	HostRule RuleKind = "host"
)

/*
TLSSettings describes how a rule terminates TLS
*/
type TLSSettings struct {
	Enabled       bool
	RedirectToTLS bool
	CertPath      string
	KeyPath       string
	DHParamPath   string
}

/*
ErrorPage is the error page policy of a rule, Custom is the page URI when one was provided
*/
type ErrorPage struct {
	Enabled bool
	Custom  string
}

/*
RawRuleCandidate is a rule extracted from annotations that has not been checked against the service ports
*/
type RawRuleCandidate struct {
	Service          string
	Namespace        string
	Kind             RuleKind
	Match            string
	PortSuffix       string
	TargetAddress    string
	ErrorPage        ErrorPage
	AllowedCIDRs     []string
	ExposedPort      int
	TLS              TLSSettings
	WebsocketEnabled bool
}

/*
RuleDefinition is a validated routing rule
*/
type RuleDefinition struct {
	Service          string
	Namespace        string
	Kind             RuleKind
	Match            string
	TargetAddress    string
	TargetPort       int
	ErrorPage        ErrorPage
	AllowedCIDRs     []string
	ExposedPort      int
	TLS              TLSSettings
	WebsocketEnabled bool
}

/*
PathListener is a server exposing a group of path rules on one port
*/
type PathListener struct {
	Port  int
	TLS   TLSSettings
	Rules []RuleDefinition
}

/*
Snapshot is the data handed to the renderer for one reconcile cycle
*/
type Snapshot struct {
	PathRules     []RuleDefinition
	HostRules     []RuleDefinition
	PathListeners []PathListener
	Settings      GlobalSettings
}

const (
	// ReasonPortNotFound is reported when a rule targets a port the service does not declare
	ReasonPortNotFound = "port not found"
	// ReasonUnknownKind is reported when a rule is neither a path nor a host rule
	ReasonUnknownKind = "unrecognized rule kind"
	// ReasonMalformedRule is reported when a rule value is not in the kind:match format
	ReasonMalformedRule = "malformed rule"
	// ReasonInvalidMatch is reported when a path or hostname is not usable
	ReasonInvalidMatch = "invalid match expression"
	// ReasonInvalidCIDR is reported when a CIDR annotation contains an unparsable entry
	ReasonInvalidCIDR = "invalid cidr"
	// ReasonInvalidAnnotation is reported when an auxiliary annotation is ignored in favor of its default
	ReasonInvalidAnnotation = "invalid annotation"
	// ReasonMixedTLS is reported when a TLS path rule shares its port with plain rules, the port stays plain
	ReasonMixedTLS = "tls port shared with plain rules"
)

/*
ValidationError describes a single rule problem, the rule it belongs to is dropped unless the reason is
ReasonInvalidAnnotation or ReasonMixedTLS
*/
type ValidationError struct {
	Service string
	Port    string
	Reason  string
	Detail  string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("service %s, port %s: %s", e.Service, e.Port, e.Reason)
	}

	return fmt.Sprintf("service %s, port %s: %s (%s)", e.Service, e.Port, e.Reason, e.Detail)
}
