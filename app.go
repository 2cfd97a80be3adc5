package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"trackcurator/backend"
)

// App wires configuration, logging and the backend operations used by the
// commands.
type App struct {
	cfg    *backend.Config
	logger *slog.Logger
}

func NewApp(cfg *backend.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}
}

type ScanRequest struct {
	Root          string
	NoFingerprint bool
	NoCache       bool
	Record        bool
}

type ScanResponse struct {
	RunID string `json:"run_id,omitempty"`
	*backend.ScanResult
}

// ScanLibrary scans root with the configured scanner settings.
func (a *App) ScanLibrary(ctx context.Context, req ScanRequest) (*ScanResponse, error) {
	root, err := resolveRoot(req.Root)
	if err != nil {
		return nil, err
	}
	started := time.Now()

	opts := a.cfg.ScanOptions(a.logger)
	if req.NoFingerprint {
		opts.Fingerprint = false
	}
	if req.NoCache {
		opts.Cache = nil
	}
	result, err := backend.ScanLibrary(ctx, root, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to scan library: %w", err)
	}

	resp := &ScanResponse{ScanResult: result}
	if req.Record {
		resp.RunID = a.recordRun(ctx, backend.RunRecord{
			Kind:      backend.RunScan,
			Root:      root,
			StartedAt: started,
			Items:     len(result.Tracks),
			Accepted:  result.Fingerprinted,
			Failures:  result.ErrorCount,
			Note:      fmt.Sprintf("%d cache hits", result.CacheHits),
		}, nil, nil)
	}
	return resp, nil
}

// CandidateFile names a provider export: "deezer:album.json".
// A bare path is read as generic candidates.
type CandidateFile struct {
	Provider string
	Path     string
}

func parseCandidateFile(raw string) (CandidateFile, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CandidateFile{}, fmt.Errorf("empty candidate source")
	}
	if provider, path, ok := strings.Cut(raw, ":"); ok {
		switch strings.ToLower(provider) {
		case backend.ProviderDeezer, backend.ProviderTidal, backend.ProviderMusicBrainz, backend.ProviderGeneric:
			if strings.TrimSpace(path) == "" {
				return CandidateFile{}, fmt.Errorf("candidate source %q has no file", raw)
			}
			return CandidateFile{Provider: strings.ToLower(provider), Path: path}, nil
		}
	}
	return CandidateFile{Provider: backend.ProviderGeneric, Path: raw}, nil
}

type MatchRequest struct {
	Root    string
	Sources []string
	// Threshold overrides matching.threshold when >= 0.
	Threshold int
	WriteTags bool
	Record    bool
}

type MatchResponse struct {
	RunID      string            `json:"run_id,omitempty"`
	Scanned    int               `json:"scanned"`
	Candidates int               `json:"candidates"`
	Run        backend.MatchRun  `json:"run"`
	Written    int               `json:"written,omitempty"`
	WriteErrs  map[string]string `json:"write_errors,omitempty"`
	// Paths maps a MetadataID back to the file it came from.
	Paths map[string]string `json:"paths"`
}

// MatchLibrary scans root, scores every local track against the candidate
// exports and optionally writes the accepted matches back into the files.
func (a *App) MatchLibrary(ctx context.Context, req MatchRequest) (*MatchResponse, error) {
	root, err := resolveRoot(req.Root)
	if err != nil {
		return nil, err
	}
	if len(req.Sources) == 0 {
		return nil, fmt.Errorf("at least one candidate source is required")
	}
	started := time.Now()

	var candidates []backend.CandidateTrack
	for _, raw := range req.Sources {
		src, err := parseCandidateFile(raw)
		if err != nil {
			return nil, err
		}
		loaded, err := backend.LoadCandidates(src.Path, src.Provider)
		if err != nil {
			return nil, err
		}
		a.logger.Info("candidates loaded", "provider", src.Provider, "path", src.Path, "count", len(loaded))
		candidates = append(candidates, loaded...)
	}

	// Fingerprints play no part in matching.
	scanOpts := a.cfg.ScanOptions(a.logger)
	scanOpts.Fingerprint = false
	scan, err := backend.ScanLibrary(ctx, root, scanOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to scan library: %w", err)
	}

	targets := make([]backend.TrackScoreTarget, 0, len(scan.Tracks))
	paths := make(map[string]string, len(scan.Tracks))
	for _, t := range scan.Tracks {
		targets = append(targets, t.TrackScoreTarget)
		paths[t.MetadataID] = t.Path
	}

	threshold := a.cfg.Matching.Threshold
	if req.Threshold >= 0 {
		threshold = req.Threshold
	}
	run, err := backend.GetAllTrackScore(ctx, targets, candidates, threshold, a.cfg.MatchOptions(a.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to match tracks: %w", err)
	}

	resp := &MatchResponse{
		Scanned:    len(scan.Tracks),
		Candidates: len(candidates),
		Run:        run,
		Paths:      paths,
	}
	if req.WriteTags {
		a.writeMatchTags(root, resp)
	}
	if req.Record {
		resp.RunID = a.recordRun(ctx, backend.RunRecord{
			Kind:      backend.RunMatch,
			Root:      root,
			StartedAt: started,
			Items:     len(targets),
			Accepted:  len(run.Matches),
			Failures:  run.Failures,
			Note:      fmt.Sprintf("%d candidates, threshold %d", len(candidates), threshold),
		}, backend.MatchRows(run), nil)
	}
	return resp, nil
}

func (a *App) writeMatchTags(root string, resp *MatchResponse) {
	var written []string
	for _, m := range resp.Run.Matches {
		path := resp.Paths[m.Target.MetadataID]
		if path == "" {
			continue
		}
		if err := backend.WriteTags(path, backend.TagUpdateFromMatch(m)); err != nil {
			if resp.WriteErrs == nil {
				resp.WriteErrs = map[string]string{}
			}
			resp.WriteErrs[path] = err.Error()
			a.logger.Warn("failed to write tags", "path", path, "error", err)
			continue
		}
		written = append(written, path)
	}
	resp.Written = len(written)
	if len(written) > 0 {
		cache := backend.ScanCache{Dir: a.cfg.Paths.CacheDir}
		if err := cache.InvalidateEntries(root, written); err != nil {
			a.logger.Warn("failed to invalidate scan cache", "error", err)
		}
	}
}

// DedupeAction is what happens to the removals of a dedupe run.
type DedupeAction string

const (
	DedupeReport     DedupeAction = "report"
	DedupeQuarantine DedupeAction = "quarantine"
	DedupeDelete     DedupeAction = "delete"
)

type DedupeRequest struct {
	Root   string
	Action DedupeAction
	// Zero values keep the configured [duplicates] settings.
	Similarity float64
	Mode       string
	Priority   []string
	Record     bool
}

type DedupeResponse struct {
	RunID    string                    `json:"run_id,omitempty"`
	Scanned  int                       `json:"scanned"`
	Reports  []backend.DuplicateReport `json:"reports"`
	Removals int                       `json:"removals"`
	// Results holds the per-file status of the quarantine or delete step.
	Results map[string]string `json:"results,omitempty"`
}

// DedupeLibrary scans root with fingerprints, resolves duplicates per album
// and applies the requested action to the removals.
func (a *App) DedupeLibrary(ctx context.Context, req DedupeRequest) (*DedupeResponse, error) {
	root, err := resolveRoot(req.Root)
	if err != nil {
		return nil, err
	}
	action := req.Action
	if action == "" {
		action = DedupeReport
	}
	switch action {
	case DedupeReport, DedupeQuarantine, DedupeDelete:
	default:
		return nil, fmt.Errorf("unknown dedupe action %q", action)
	}
	started := time.Now()

	opts := a.cfg.DuplicateOptions(a.logger)
	if req.Similarity > 0 {
		if req.Similarity > 1 {
			return nil, fmt.Errorf("similarity must be in (0, 1]")
		}
		opts.SimilarityThreshold = req.Similarity
	}
	if mode := strings.ToLower(strings.TrimSpace(req.Mode)); mode != "" {
		switch backend.ClusterMode(mode) {
		case backend.ClusterStar, backend.ClusterTransitive:
			opts.Mode = backend.ClusterMode(mode)
		default:
			return nil, fmt.Errorf("unknown cluster mode %q (want star or transitive)", req.Mode)
		}
	}
	if len(req.Priority) > 0 {
		opts.ExtensionPriority = req.Priority
	}

	scanOpts := a.cfg.ScanOptions(a.logger)
	scanOpts.Fingerprint = true
	scan, err := backend.ScanLibrary(ctx, root, scanOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to scan library: %w", err)
	}
	if len(scan.Tracks) > 0 && !hasFingerprints(scan.Tracks) {
		a.logger.Warn("no fingerprints available, nothing to compare", "fpcalc", a.cfg.Scan.FpcalcPath)
	}

	reports, err := backend.ResolveLibraryDuplicates(ctx, scan.Tracks, opts, backend.NewFingerprintCache())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve duplicates: %w", err)
	}

	resp := &DedupeResponse{Scanned: len(scan.Tracks), Reports: reports}
	removals := removalPaths(reports)
	resp.Removals = len(removals)

	actions := map[string]backend.DuplicateAction{}
	if len(removals) > 0 && action != DedupeReport {
		q := a.quarantine(root)
		var results map[string]string
		if action == DedupeQuarantine {
			results, err = q.Move(removals)
		} else {
			results, err = q.Delete(removals)
		}
		if err != nil {
			return nil, err
		}
		resp.Results = results
		for path, status := range results {
			switch status {
			case backend.StatusMoved:
				actions[path] = backend.ActionQuarantined
			case backend.StatusDeleted:
				actions[path] = backend.ActionDeleted
			}
		}
	}

	if req.Record {
		failures := 0
		for _, r := range reports {
			failures += r.Failures
		}
		resp.RunID = a.recordRun(ctx, backend.RunRecord{
			Kind:      backend.RunDedupe,
			Root:      root,
			StartedAt: started,
			Items:     len(scan.Tracks),
			Accepted:  len(removals),
			Failures:  failures,
			Note:      fmt.Sprintf("action %s, mode %s", action, opts.Mode),
		}, nil, backend.DuplicateRows(reports, actions))
	}
	return resp, nil
}

func hasFingerprints(tracks []backend.LibraryTrack) bool {
	return slices.ContainsFunc(tracks, func(t backend.LibraryTrack) bool { return t.Fingerprint != "" })
}

// removalPaths returns every removal across reports once, sorted.
func removalPaths(reports []backend.DuplicateReport) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range reports {
		for _, c := range r.Clusters {
			for _, f := range c.Removals {
				if !seen[f.Path] {
					seen[f.Path] = true
					out = append(out, f.Path)
				}
			}
		}
	}
	slices.Sort(out)
	return out
}

func (a *App) quarantine(root string) *backend.Quarantine {
	return &backend.Quarantine{
		Root:   root,
		Dir:    a.cfg.QuarantinePath(root),
		Cache:  &backend.ScanCache{Dir: a.cfg.Paths.CacheDir},
		Logger: a.logger,
	}
}

func (a *App) ListQuarantine(root string) ([]string, error) {
	root, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	return a.quarantine(root).List()
}

// RestoreFromQuarantine restores the given quarantined files, or all of them
// when paths is empty.
func (a *App) RestoreFromQuarantine(root string, paths []string) (map[string]string, error) {
	root, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	q := a.quarantine(root)
	if len(paths) == 0 {
		if paths, err = q.List(); err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			return map[string]string{}, nil
		}
	}
	return q.Restore(paths)
}

func (a *App) EmptyQuarantine(root string) (int, error) {
	root, err := resolveRoot(root)
	if err != nil {
		return 0, err
	}
	return a.quarantine(root).Empty()
}

func (a *App) PruneCache(root string) (int, error) {
	root, err := resolveRoot(root)
	if err != nil {
		return 0, err
	}
	cache := backend.ScanCache{Dir: a.cfg.Paths.CacheDir}
	return cache.Prune(root)
}

func (a *App) ClearCache(root string) error {
	root, err := resolveRoot(root)
	if err != nil {
		return err
	}
	cache := backend.ScanCache{Dir: a.cfg.Paths.CacheDir}
	return cache.Clear(root)
}

// withHistory opens the history database for the duration of fn.
func (a *App) withHistory(fn func(*backend.History) error) error {
	h, err := backend.OpenHistory(a.cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(h)
}

func (a *App) ListRuns(ctx context.Context, limit int) ([]backend.RunRecord, error) {
	var runs []backend.RunRecord
	err := a.withHistory(func(h *backend.History) error {
		var err error
		runs, err = h.ListRuns(ctx, limit)
		return err
	})
	return runs, err
}

type RunDetail struct {
	Run        backend.RunRecord      `json:"run"`
	Matches    []backend.MatchRow     `json:"matches,omitempty"`
	Duplicates []backend.DuplicateRow `json:"duplicates,omitempty"`
}

// ShowRun returns a recorded run with its rows. An id prefix is accepted
// when it is unambiguous among the latest runs.
func (a *App) ShowRun(ctx context.Context, id string) (*RunDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("run id is required")
	}
	var detail *RunDetail
	err := a.withHistory(func(h *backend.History) error {
		runs, err := h.ListRuns(ctx, 0)
		if err != nil {
			return err
		}
		var found []backend.RunRecord
		for _, r := range runs {
			if r.ID == id {
				found = []backend.RunRecord{r}
				break
			}
			if strings.HasPrefix(r.ID, id) {
				found = append(found, r)
			}
		}
		switch len(found) {
		case 0:
			return fmt.Errorf("run %s not found", id)
		case 1:
		default:
			return fmt.Errorf("run id %s is ambiguous (%d runs)", id, len(found))
		}

		detail = &RunDetail{Run: found[0]}
		if detail.Matches, err = h.Matches(ctx, found[0].ID); err != nil {
			return err
		}
		detail.Duplicates, err = h.Duplicates(ctx, found[0].ID)
		return err
	})
	return detail, err
}

// recordRun stores run in the history database. Failures are logged and
// never fail the operation that produced the run.
func (a *App) recordRun(ctx context.Context, run backend.RunRecord, matches []backend.MatchRow, duplicates []backend.DuplicateRow) string {
	run.FinishedAt = time.Now()
	var id string
	err := a.withHistory(func(h *backend.History) error {
		var err error
		id, err = h.RecordRun(ctx, run, matches, duplicates)
		return err
	})
	if err != nil {
		a.logger.Warn("failed to record run", "kind", run.Kind, "error", err)
		return ""
	}
	a.logger.Debug("run recorded", "kind", run.Kind, "id", id)
	return id
}

func resolveRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("library root is required")
	}
	expanded, err := backend.ExpandPath(root)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("library root %s does not exist", expanded)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("library root %s is not a directory", expanded)
	}
	return filepath.Clean(expanded), nil
}
