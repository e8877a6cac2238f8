package gateway

import (
	"slices"
	"strings"
)

/*
ManagerRule returns the path rule routing to the status server, it is part of every generated configuration so the
manager stays reachable through the proxy
*/
func ManagerRule(settings GlobalSettings) RuleDefinition {
	return RuleDefinition{
		Service:       ManagerService,
		Kind:          PathRule,
		Match:         ManagerPath,
		TargetAddress: settings.ManagerAddress,
		TargetPort:    settings.ManagerPort,
		ErrorPage:     ErrorPage{Enabled: true},
		AllowedCIDRs:  settings.DefaultCIDRs,
		ExposedPort:   defaultExposedPort(PathRule, settings.TLS, settings),
		TLS:           settings.TLS,
	}
}

/*
SortRules orders the rules by service name, rules of the same service keep their relative order
*/
func SortRules(rules []RuleDefinition) {
	slices.SortStableFunc(rules, func(a, b RuleDefinition) int {
		return strings.Compare(a.Service, b.Service)
	})
}

/*
Aggregate splits the rules into path rules and host rules, adds the manager rule to the path rules and sorts both
*/
func Aggregate(rules []RuleDefinition, settings GlobalSettings) ([]RuleDefinition, []RuleDefinition) {
	pathRules := make([]RuleDefinition, 0, len(rules)+1)
	hostRules := make([]RuleDefinition, 0, len(rules))

	for _, rule := range rules {
		switch rule.Kind {
		case PathRule:
			pathRules = append(pathRules, rule)
		case HostRule:
			hostRules = append(hostRules, rule)
		}
	}

	pathRules = append(pathRules, ManagerRule(settings))

	SortRules(pathRules)
	SortRules(hostRules)

	return pathRules, hostRules
}
