package security

import "github.com/agentpipe/core/ent"

// RiskScore rolls a task's vulnerabilities up into a single 0-100 figure:
// min(100, 25*critical + 15*high + 5*medium + 1*low).
func RiskScore(vulns []*ent.Vulnerability) int {
	var critical, high, medium, low int
	for _, v := range vulns {
		switch string(v.Severity) {
		case SeverityCritical:
			critical++
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		case SeverityLow:
			low++
		}
	}

	score := 25*critical + 15*high + 5*medium + low
	if score > 100 {
		score = 100
	}
	return score
}
