// Package globalscan implements the GlobalScan phase (§4.6): run the
// workspace scanner over every repository and roll up severity counts.
// GlobalScan always runs, even when an earlier phase failed, so it must
// never itself treat a thin or empty workspace as an error.
package globalscan

import (
	"context"
	"fmt"
	"time"

	"github.com/agentpipe/core/pkg/config"
	"github.com/agentpipe/core/pkg/phases"
	"github.com/agentpipe/core/pkg/security"
)

// vulnerabilitySummary is the closed, wire-stable shape GlobalScan reports
// per finding, trimmed to what an external exporter needs (§6).
type vulnerabilitySummary struct {
	ID         string  `json:"id"`
	Severity   string  `json:"severity"`
	Category   string  `json:"category"`
	Type       string  `json:"type"`
	FilePath   *string `json:"filePath,omitempty"`
	Repository string  `json:"repository"`
}

// Phase drives GlobalScan.
type Phase struct {
	observer *security.Observer
	opts     security.ScanOptions
}

// New builds a GlobalScan phase.
func New(observer *security.Observer, cfg config.ScanConfig) *Phase {
	return &Phase{observer: observer, opts: security.ScanOptionsFromConfig(cfg)}
}

func (p *Phase) Name() string { return "global_scan" }

func (p *Phase) Run(ctx context.Context, in phases.Context) (phases.Result, error) {
	sessionID := fmt.Sprintf("global-scan-%s", in.Task.ID)

	bySeverity := map[string]int{}
	byType := map[string]int{}
	byRepository := map[string]int{}
	vulnerabilities := make([]vulnerabilitySummary, 0)
	totalFiles := 0

	for repoRef, path := range in.WorkspacePaths {
		vulns, files, err := p.observer.ScanWorkspace(ctx, in.Task.ID, sessionID, p.Name(), path, p.opts)
		if err != nil {
			return phases.Result{}, fmt.Errorf("global_scan: scanning %s: %w", repoRef, err)
		}
		totalFiles += files
		byRepository[repoRef] += len(vulns)
		for _, v := range vulns {
			bySeverity[string(v.Severity)]++
			byType[v.VulnerabilityType]++
			vulnerabilities = append(vulnerabilities, vulnerabilitySummary{
				ID:         v.ID,
				Severity:   string(v.Severity),
				Category:   v.Category,
				Type:       v.VulnerabilityType,
				FilePath:   v.FilePath,
				Repository: repoRef,
			})
		}
	}

	return phases.Result{Payload: map[string]any{
		"scannedAt":           time.Now(),
		"totalFilesScanned":   totalFiles,
		"repositoriesScanned": len(in.WorkspacePaths),
		"vulnerabilities":     vulnerabilities,
		"bySeverity":          bySeverity,
		"byType":              byType,
		"byRepository":        byRepository,
	}}, nil
}
