package security

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/vulnerability"
	"github.com/agentpipe/core/pkg/config"
	"github.com/agentpipe/core/pkg/store"
	"github.com/google/uuid"
)

// scanExtensions is the allow-list of source file extensions a workspace
// scan reads. Anything else (binaries, images, lockfiles) is skipped.
var scanExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".java": true, ".rb": true, ".php": true, ".sh": true, ".bash": true,
	".yaml": true, ".yml": true, ".json": true, ".env": true, ".tf": true,
	".c": true, ".cpp": true, ".h": true, ".rs": true, ".cs": true,
}

// scanIgnoreDirs is skipped outright, including descendants.
var scanIgnoreDirs = map[string]bool{
	"node_modules": true, ".git": true, ".hg": true, ".svn": true,
	"dist": true, "build": true, "target": true, "vendor": true,
	".next": true, "__pycache__": true, ".venv": true,
}

// ScanOptions bounds a workspace scan.
type ScanOptions struct {
	MaxFiles  int
	MaxFileKB int
	Depth     int
}

// ScanOptionsFromConfig builds ScanOptions from the observer's scan config.
func ScanOptionsFromConfig(cfg config.ScanConfig) ScanOptions {
	return ScanOptions{MaxFiles: cfg.MaxFiles, MaxFileKB: cfg.MaxFileKB, Depth: cfg.Depth}
}

// ScanWorkspace walks root and runs the full signature catalogue over
// every qualifying file's lines. Workspace scans never set blocked — a
// stale match in an untouched file is not a reason to halt the phase
// driving this scan. Returns the number of files actually scanned
// alongside any findings, so GlobalScan can report totalFilesScanned.
func (o *Observer) ScanWorkspace(ctx context.Context, taskID, sessionID, phaseName, root string, opts ScanOptions) ([]*ent.Vulnerability, int, error) {
	var found []*ent.Vulnerability
	filesScanned := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort scan, skip unreadable entries
		}
		if filesScanned >= opts.MaxFiles {
			return filepath.SkipAll
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr == nil && rel != "." {
			depth := strings.Count(rel, string(filepath.Separator)) + 1
			if depth > opts.Depth {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if d.IsDir() {
			if scanIgnoreDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		if !scanExtensions[filepath.Ext(path)] {
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil || info.Size() > int64(opts.MaxFileKB)*1024 {
			return nil
		}

		filesScanned++
		fileFindings, scanErr := o.scanFile(ctx, taskID, sessionID, phaseName, path)
		if scanErr != nil {
			return nil //nolint:nilerr // one unreadable file must not abort the whole scan
		}
		found = append(found, fileFindings...)
		return nil
	})
	if err != nil {
		return found, filesScanned, err
	}
	return found, filesScanned, nil
}

// ScanRepositories scans each repository working tree and aggregates
// findings across all of them.
func (o *Observer) ScanRepositories(ctx context.Context, taskID, sessionID, phaseName string, repoRoots []string, opts ScanOptions) ([]*ent.Vulnerability, int, error) {
	var all []*ent.Vulnerability
	totalFiles := 0
	for _, root := range repoRoots {
		found, files, err := o.ScanWorkspace(ctx, taskID, sessionID, phaseName, root, opts)
		totalFiles += files
		if err != nil {
			return all, totalFiles, err
		}
		all = append(all, found...)
	}
	return all, totalFiles, nil
}

func (o *Observer) scanFile(ctx context.Context, taskID, sessionID, phaseName, path string) ([]*ent.Vulnerability, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var found []*ent.Vulnerability
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		for _, sig := range o.catalogue.Match(line) {
			v, err := o.recordScanMatch(ctx, taskID, sessionID, phaseName, path, lineNumber, line, sig)
			if err != nil {
				return found, err
			}
			found = append(found, v)
		}
	}
	return found, scanner.Err()
}

func (o *Observer) recordScanMatch(ctx context.Context, taskID, sessionID, phaseName, path string, lineNumber int, line string, sig *Signature) (*ent.Vulnerability, error) {
	snippet := truncate(line, 200)
	v, err := o.store.AppendVulnerability(ctx, store.NewVulnerability{
		ID:                uuid.NewString(),
		TaskID:            taskID,
		SessionID:         sessionID,
		PhaseName:         phaseName,
		Severity:          vulnerability.Severity(sig.Severity),
		Category:          sig.Category,
		VulnerabilityType: sig.Name,
		Description:       sig.Description,
		Evidence:          map[string]interface{}{"matched_text": snippet},
		MatchedPattern:    sig.Name,
		FilePath:          &path,
		LineNumber:        &lineNumber,
		CodeSnippet:       &snippet,
		OwaspCategory:     &sig.OWASPCategory,
		CweID:             &sig.CWEID,
		Recommendation:    &sig.Recommendation,
		Blocked:           false,
	})
	if err != nil {
		return nil, err
	}
	if o.events != nil {
		o.events.PublishVulnerability(ctx, taskID, sig.Severity, sig.Category, false)
	}
	return v, nil
}
