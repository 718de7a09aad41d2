package security

import (
	"testing"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/vulnerability"
	"github.com/stretchr/testify/assert"
)

func vuln(severity vulnerability.Severity) *ent.Vulnerability {
	return &ent.Vulnerability{Severity: severity}
}

func TestRiskScore_WeightsEachSeverityAndSums(t *testing.T) {
	vulns := []*ent.Vulnerability{
		vuln(vulnerability.SeverityCritical),
		vuln(vulnerability.SeverityHigh),
		vuln(vulnerability.SeverityMedium),
		vuln(vulnerability.SeverityLow),
	}
	assert.Equal(t, 25+15+5+1, RiskScore(vulns))
}

func TestRiskScore_CapsAt100(t *testing.T) {
	var vulns []*ent.Vulnerability
	for i := 0; i < 10; i++ {
		vulns = append(vulns, vuln(vulnerability.SeverityCritical))
	}
	assert.Equal(t, 100, RiskScore(vulns))
}

func TestRiskScore_EmptyIsZero(t *testing.T) {
	assert.Equal(t, 0, RiskScore(nil))
}
