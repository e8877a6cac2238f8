package gateway

import (
	"fmt"
	"sort"
	"strconv"
)

/*
BuildSnapshot assembles the renderer input. Path rules are grouped into one listener per exposed port, listeners are
ordered by port and keep the rule order. A listener terminates TLS, with the settings of its first rule, only when
all of its rules enable TLS.
*/
func BuildSnapshot(pathRules, hostRules []RuleDefinition, settings GlobalSettings) *Snapshot {
	listeners := map[int]*PathListener{}

	for _, rule := range pathRules {
		listener, ok := listeners[rule.ExposedPort]

		if !ok {
			listener = &PathListener{Port: rule.ExposedPort}
			listeners[rule.ExposedPort] = listener
		}

		listener.Rules = append(listener.Rules, rule)
	}

	snapshot := &Snapshot{
		PathRules:     pathRules,
		HostRules:     hostRules,
		PathListeners: make([]PathListener, 0, len(listeners)),
		Settings:      settings,
	}

	for _, listener := range listeners {
		if allTLS(listener.Rules) {
			listener.TLS = listener.Rules[0].TLS
		}

		snapshot.PathListeners = append(snapshot.PathListeners, *listener)
	}

	sort.Slice(snapshot.PathListeners, func(i, j int) bool {
		return snapshot.PathListeners[i].Port < snapshot.PathListeners[j].Port
	})

	return snapshot
}

func allTLS(rules []RuleDefinition) bool {
	for _, rule := range rules {
		if !rule.TLS.Enabled {
			return false
		}
	}

	return len(rules) > 0
}

// Reports the TLS rules served without TLS because their listener also carries plain rules
func mixedTLSDiagnostics(listeners []PathListener) []*ValidationError {
	var diagnostics []*ValidationError

	for _, listener := range listeners {
		if listener.TLS.Enabled {
			continue
		}

		for _, rule := range listener.Rules {
			if rule.TLS.Enabled {
				diagnostics = append(diagnostics, &ValidationError{
					Service: rule.Service,
					Port:    strconv.Itoa(rule.TargetPort),
					Reason:  ReasonMixedTLS,
					Detail:  fmt.Sprintf("%s served without tls on %d", rule.Match, listener.Port),
				})
			}
		}
	}

	return diagnostics
}

/*
Derive runs extraction, validation, aggregation and snapshot assembly over the services. The services are processed
in the order given and every problem found along the way is returned as a diagnostic.
*/
func Derive(services []ServiceRecord, config ExtractionConfig, settings GlobalSettings) (*Snapshot, []*ValidationError) {
	var rules []RuleDefinition
	var diagnostics []*ValidationError

	for _, service := range services {
		candidates, extractDiagnostics := Extract(service, config, settings)
		valid, validateDiagnostics := ValidateAll(candidates, service.Ports)

		rules = append(rules, valid...)
		diagnostics = append(diagnostics, extractDiagnostics...)
		diagnostics = append(diagnostics, validateDiagnostics...)
	}

	pathRules, hostRules := Aggregate(rules, settings)

	snapshot := BuildSnapshot(pathRules, hostRules, settings)

	return snapshot, append(diagnostics, mixedTLSDiagnostics(snapshot.PathListeners)...)
}
