package gateway

import (
	"strconv"
	"strings"
)

/*
Validate turns a candidate into a rule when its port suffix is one of the ports declared by the service
*/
func Validate(candidate RawRuleCandidate, declaredPorts []int32) (RuleDefinition, error) {
	port, err := strconv.Atoi(strings.TrimSpace(candidate.PortSuffix))

	if err == nil {
		for _, declared := range declaredPorts {
			if int(declared) == port {
				return RuleDefinition{
					Service:          candidate.Service,
					Namespace:        candidate.Namespace,
					Kind:             candidate.Kind,
					Match:            candidate.Match,
					TargetAddress:    candidate.TargetAddress,
					TargetPort:       port,
					ErrorPage:        candidate.ErrorPage,
					AllowedCIDRs:     candidate.AllowedCIDRs,
					ExposedPort:      candidate.ExposedPort,
					TLS:              candidate.TLS,
					WebsocketEnabled: candidate.WebsocketEnabled,
				}, nil
			}
		}
	}

	return RuleDefinition{}, &ValidationError{
		Service: candidate.Service,
		Port:    candidate.PortSuffix,
		Reason:  ReasonPortNotFound,
	}
}

/*
ValidateAll validates every candidate of a service, keeping the valid rules in order
*/
func ValidateAll(candidates []RawRuleCandidate, declaredPorts []int32) ([]RuleDefinition, []*ValidationError) {
	var rules []RuleDefinition
	var diagnostics []*ValidationError

	for _, candidate := range candidates {
		rule, err := Validate(candidate, declaredPorts)

		if err != nil {
			diagnostics = append(diagnostics, err.(*ValidationError))

			continue
		}

		rules = append(rules, rule)
	}

	return rules, diagnostics
}
