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
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/30x/k8s-svc-gw-mgr/utils"

	"k8s.io/apimachinery/pkg/util/validation"
)

// Characters that would let an annotation value escape its nginx directive
const unsafeChars = " \t\r\n;{}\"'\\"

func isSafeValue(value string) bool {
	return value != "" && !strings.ContainsAny(value, unsafeChars)
}

func isValidPath(path string) bool {
	if !strings.HasPrefix(path, "/") || !isSafeValue(path) {
		return false
	}

	u, err := url.Parse(path)

	return err == nil && u.Path == path
}

// Hostnames are case insensitive and may be written fully qualified
func normalizeMatch(kind RuleKind, match string) string {
	if kind == HostRule {
		return strings.ToLower(strings.TrimSuffix(match, "."))
	}

	return match
}

func isValidMatch(kind RuleKind, match string) bool {
	if kind == PathRule {
		return isValidPath(match)
	}

	if strings.HasPrefix(match, "*.") {
		return len(validation.IsWildcardDNS1123Subdomain(match)) == 0
	}

	return len(validation.IsDNS1123Subdomain(match)) == 0
}

func (c ExtractionConfig) auxiliaryPrefixes() []string {
	return []string{
		c.ErrorPagePrefix,
		c.CIDRPrefix,
		c.ExposedPortPrefix,
		c.SSLPrefix,
		c.SSLRedirectPrefix,
		c.SSLCertPrefix,
		c.SSLKeyPrefix,
		c.SSLDHParamPrefix,
		c.WebsocketPrefix,
	}
}

func (c ExtractionConfig) isAuxiliary(key string) bool {
	for _, prefix := range c.auxiliaryPrefixes() {
		if prefix != "" && strings.HasPrefix(key, prefix) {
			return true
		}
	}

	return false
}

func defaultExposedPort(kind RuleKind, tls TLSSettings, settings GlobalSettings) int {
	if tls.Enabled {
		return settings.TLSPort
	}

	if kind == HostRule {
		return settings.HostPort
	}

	return settings.PathPort
}

/*
Extract returns the rule candidates declared by the service annotations. Annotations are processed in key order and
problems are returned as diagnostics, a bad annotation never prevents the others from being extracted.
*/
func Extract(service ServiceRecord, config ExtractionConfig, settings GlobalSettings) ([]RawRuleCandidate, []*ValidationError) {
	var candidates []RawRuleCandidate
	var diagnostics []*ValidationError

	if config.RulePrefix == "" || len(service.Annotations) == 0 {
		return candidates, diagnostics
	}

	keys := make([]string, 0, len(service.Annotations))

	for key := range service.Annotations {
		if strings.HasPrefix(key, config.RulePrefix) && !config.isAuxiliary(key) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)

	for _, key := range keys {
		port := strings.TrimPrefix(key, config.RulePrefix)
		report := func(reason, detail string) {
			diagnostics = append(diagnostics, &ValidationError{
				Service: service.Name,
				Port:    port,
				Reason:  reason,
				Detail:  detail,
			})
		}
		lookup := func(prefix string) (string, bool) {
			if prefix == "" {
				return "", false
			}

			value, ok := service.Annotations[prefix+port]
			value = strings.TrimSpace(value)

			return value, ok && value != ""
		}
		lookupValue := func(prefix string, valid func(string) bool) (string, bool) {
			value, ok := lookup(prefix)

			if ok && !valid(value) {
				report(ReasonInvalidAnnotation, prefix+port+"="+value)

				return "", false
			}

			return value, ok
		}
		lookupBool := func(prefix string, fallback bool) bool {
			value, ok := lookup(prefix)

			if !ok {
				return fallback
			}

			parsed, err := strconv.ParseBool(value)

			if err != nil {
				report(ReasonInvalidAnnotation, prefix+port+"="+value)

				return fallback
			}

			return parsed
		}

		value := service.Annotations[key]
		kindStr, match, found := strings.Cut(value, ":")
		match = strings.TrimSpace(match)

		if !found || match == "" {
			report(ReasonMalformedRule, value)

			continue
		}

		kind := RuleKind(strings.TrimSpace(kindStr))

		if kind != PathRule && kind != HostRule {
			report(ReasonUnknownKind, kindStr)

			continue
		}

		match = normalizeMatch(kind, match)

		if !isValidMatch(kind, match) {
			report(ReasonInvalidMatch, match)

			continue
		}

		candidate := RawRuleCandidate{
			Service:       service.Name,
			Namespace:     service.Namespace,
			Kind:          kind,
			Match:         match,
			PortSuffix:    port,
			TargetAddress: service.Address,
			ErrorPage:     settings.ErrorPage,
			AllowedCIDRs:  settings.DefaultCIDRs,
		}

		if errorPage, ok := lookup(config.ErrorPagePrefix); ok {
			if enabled, err := strconv.ParseBool(errorPage); err == nil {
				candidate.ErrorPage = ErrorPage{Enabled: enabled}
			} else if isValidPath(errorPage) {
				candidate.ErrorPage = ErrorPage{Enabled: true, Custom: errorPage}
			} else {
				report(ReasonInvalidAnnotation, config.ErrorPagePrefix+port+"="+errorPage)
			}
		}

		if cidrs, ok := lookup(config.CIDRPrefix); ok {
			parsed, invalid := ParseCIDRs(cidrs)

			if invalid != "" {
				// An unusable allow list must not turn into an unrestricted rule
				report(ReasonInvalidCIDR, invalid)

				continue
			}

			if len(parsed) > 0 {
				candidate.AllowedCIDRs = parsed
			}
		}

		candidate.TLS = TLSSettings{
			Enabled:       lookupBool(config.SSLPrefix, settings.TLS.Enabled),
			RedirectToTLS: lookupBool(config.SSLRedirectPrefix, settings.TLS.RedirectToTLS),
			CertPath:      settings.TLS.CertPath,
			KeyPath:       settings.TLS.KeyPath,
			DHParamPath:   settings.TLS.DHParamPath,
		}

		if certPath, ok := lookupValue(config.SSLCertPrefix, isSafeValue); ok {
			candidate.TLS.CertPath = certPath
		}

		if keyPath, ok := lookupValue(config.SSLKeyPrefix, isSafeValue); ok {
			candidate.TLS.KeyPath = keyPath
		}

		if dhParamPath, ok := lookupValue(config.SSLDHParamPrefix, isSafeValue); ok {
			candidate.TLS.DHParamPath = dhParamPath
		}

		candidate.WebsocketEnabled = lookupBool(config.WebsocketPrefix, settings.Websocket)
		candidate.ExposedPort = defaultExposedPort(kind, candidate.TLS, settings)

		if exposedPort, ok := lookup(config.ExposedPortPrefix); ok {
			if parsed, err := utils.ParsePort(exposedPort); err == nil {
				candidate.ExposedPort = parsed
			} else {
				report(ReasonInvalidAnnotation, config.ExposedPortPrefix+port+"="+exposedPort)
			}
		}

		candidates = append(candidates, candidate)
	}

	return candidates, diagnostics
}
