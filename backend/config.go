package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the trackcurator configuration file.
type Config struct {
	Paths      PathsConfig      `toml:"paths"`
	Scan       ScanConfig       `toml:"scan"`
	Matching   MatchingConfig   `toml:"matching"`
	Duplicates DuplicatesConfig `toml:"duplicates"`
	Logging    LoggingConfig    `toml:"logging"`
}

// PathsConfig holds on-disk locations.
type PathsConfig struct {
	CacheDir string `toml:"cache_dir"`
	StateDir string `toml:"state_dir"`
	// QuarantineDir is joined with the library root when relative.
	QuarantineDir string `toml:"quarantine_dir"`
}

// ScanConfig controls the library scanner.
type ScanConfig struct {
	Extensions         []string `toml:"extensions"`
	Workers            int      `toml:"workers"`
	Fingerprint        bool     `toml:"fingerprint"`
	FpcalcPath         string   `toml:"fpcalc_path"`
	FingerprintLength  int      `toml:"fingerprint_length"`
	FingerprintTimeout int      `toml:"fingerprint_timeout_seconds"`
	FilenameFallback   bool     `toml:"filename_fallback"`
}

// MatchingConfig controls the track matcher.
type MatchingConfig struct {
	Threshold         int     `toml:"threshold"`
	DurationTolerance float64 `toml:"duration_tolerance"`
	Workers           int     `toml:"workers"`
}

// DuplicatesConfig controls the duplicate resolver.
type DuplicatesConfig struct {
	SimilarityThreshold float64  `toml:"similarity_threshold"`
	DurationTolerance   float64  `toml:"duration_tolerance"`
	MaxDrift            float64  `toml:"max_drift"`
	ExtensionPriority   []string `toml:"extension_priority"`
	Mode                string   `toml:"mode"`
	Workers             int      `toml:"workers"`
}

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			CacheDir:      defaultCacheDir(),
			StateDir:      "~/.local/share/trackcurator",
			QuarantineDir: ".trackcurator_quarantine",
		},
		Scan: ScanConfig{
			Extensions:         DefaultAudioExtensions(),
			Fingerprint:        true,
			FpcalcPath:         "fpcalc",
			FingerprintLength:  defaultFpcalcLengthSec,
			FingerprintTimeout: int(defaultFpcalcTimeout / time.Second),
			FilenameFallback:   true,
		},
		Matching: MatchingConfig{
			Threshold:         DefaultMatchThreshold,
			DurationTolerance: DefaultDurationTolerance,
		},
		Duplicates: DuplicatesConfig{
			SimilarityThreshold: DefaultSimilarityThreshold,
			DurationTolerance:   DefaultDurationTolerance,
			MaxDrift:            DefaultMaxDrift,
			ExtensionPriority:   DefaultExtensionPriority(),
			Mode:                string(ClusterStar),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultConfigPath returns ~/.config/trackcurator/config.toml.
func DefaultConfigPath() (string, error) {
	return ExpandPath("~/.config/trackcurator/config.toml")
}

// LoadConfig reads path (or the default location when empty) over the
// defaults, expands paths and validates the result. A missing file is not an
// error; exists reports whether one was read.
func LoadConfig(path string) (cfg *Config, resolved string, exists bool, err error) {
	loaded := DefaultConfig()

	resolved = path
	if strings.TrimSpace(resolved) == "" {
		if resolved, err = DefaultConfigPath(); err != nil {
			return nil, "", false, err
		}
	} else if resolved, err = ExpandPath(resolved); err != nil {
		return nil, "", false, err
	}

	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		exists = true
		if err := toml.Unmarshal(data, &loaded); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, "", false, fmt.Errorf("read config: %w", err)
	}

	if err := loaded.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := loaded.Validate(); err != nil {
		return nil, "", false, err
	}
	return &loaded, resolved, exists, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.CacheDir, err = ExpandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if c.Paths.StateDir, err = ExpandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if q := strings.TrimSpace(c.Paths.QuarantineDir); strings.HasPrefix(q, "~") || filepath.IsAbs(q) {
		if c.Paths.QuarantineDir, err = ExpandPath(q); err != nil {
			return fmt.Errorf("paths.quarantine_dir: %w", err)
		}
	}
	if c.Logging.File != "" {
		if c.Logging.File, err = ExpandPath(c.Logging.File); err != nil {
			return fmt.Errorf("logging.file: %w", err)
		}
	}
	c.Scan.Extensions = normalizeExtensions(c.Scan.Extensions)
	c.Duplicates.ExtensionPriority = normalizeExtensions(c.Duplicates.ExtensionPriority)
	c.Duplicates.Mode = strings.ToLower(strings.TrimSpace(c.Duplicates.Mode))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	return nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateScan(); err != nil {
		return err
	}
	if err := c.validateMatching(); err != nil {
		return err
	}
	if err := c.validateDuplicates(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateScan() error {
	if len(c.Scan.Extensions) == 0 {
		return errors.New("scan.extensions must list at least one extension")
	}
	if c.Scan.Workers < 0 {
		return errors.New("scan.workers must be >= 0")
	}
	if c.Scan.FingerprintLength < 0 || c.Scan.FingerprintTimeout < 0 {
		return errors.New("scan.fingerprint_length and scan.fingerprint_timeout_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateMatching() error {
	if c.Matching.Threshold < 0 || c.Matching.Threshold > MaxScore {
		return fmt.Errorf("matching.threshold must be between 0 and %d", MaxScore)
	}
	if c.Matching.DurationTolerance <= 0 {
		return errors.New("matching.duration_tolerance must be positive")
	}
	if c.Matching.Workers < 0 {
		return errors.New("matching.workers must be >= 0")
	}
	return nil
}

func (c *Config) validateDuplicates() error {
	d := c.Duplicates
	if d.SimilarityThreshold <= 0 || d.SimilarityThreshold > 1 {
		return errors.New("duplicates.similarity_threshold must be in (0, 1]")
	}
	if d.DurationTolerance <= 0 {
		return errors.New("duplicates.duration_tolerance must be positive")
	}
	if d.MaxDrift <= 0 {
		return errors.New("duplicates.max_drift must be positive")
	}
	if len(d.ExtensionPriority) == 0 {
		return errors.New("duplicates.extension_priority must list at least one extension")
	}
	switch ClusterMode(d.Mode) {
	case ClusterStar, ClusterTransitive:
	default:
		return fmt.Errorf("duplicates.mode: unsupported value %q (want star or transitive)", d.Mode)
	}
	if d.Workers < 0 {
		return errors.New("duplicates.workers must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
}

// MatchOptions builds matcher options from the [matching] section.
func (c *Config) MatchOptions(logger *slog.Logger) MatchOptions {
	return MatchOptions{
		Compare: CompareOptions{DurationTolerance: c.Matching.DurationTolerance},
		Workers: c.Matching.Workers,
		Logger:  logger,
	}
}

// DuplicateOptions builds resolver options from the [duplicates] section.
func (c *Config) DuplicateOptions(logger *slog.Logger) DuplicateOptions {
	return DuplicateOptions{
		SimilarityThreshold: c.Duplicates.SimilarityThreshold,
		DurationTolerance:   c.Duplicates.DurationTolerance,
		MaxDrift:            c.Duplicates.MaxDrift,
		ExtensionPriority:   append([]string(nil), c.Duplicates.ExtensionPriority...),
		Mode:                ClusterMode(c.Duplicates.Mode),
		Workers:             c.Duplicates.Workers,
		Logger:              logger,
	}
}

// ScanOptions builds scanner options from the [scan] section.
func (c *Config) ScanOptions(logger *slog.Logger) ScanOptions {
	return ScanOptions{
		Extensions:       append([]string(nil), c.Scan.Extensions...),
		Workers:          c.Scan.Workers,
		Fingerprint:      c.Scan.Fingerprint,
		FilenameFallback: c.Scan.FilenameFallback,
		Fingerprinter: Fingerprinter{
			BinaryPath: c.Scan.FpcalcPath,
			LengthSec:  c.Scan.FingerprintLength,
			Timeout:    time.Duration(c.Scan.FingerprintTimeout) * time.Second,
		},
		Cache:  &ScanCache{Dir: c.Paths.CacheDir},
		Logger: logger,
	}
}

// QuarantinePath resolves the quarantine directory for a library root.
func (c *Config) QuarantinePath(root string) string {
	q := strings.TrimSpace(c.Paths.QuarantineDir)
	if q == "" {
		q = ".trackcurator_quarantine"
	}
	if filepath.IsAbs(q) {
		return q
	}
	return filepath.Join(root, q)
}

// HistoryPath is the run history database location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// WriteSampleConfig writes the default configuration as TOML to path.
func WriteSampleConfig(path string) error {
	data, err := toml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal sample config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	header := "# trackcurator configuration\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~ and returns an absolute, cleaned path.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "trackcurator")
	}
	return filepath.Join(os.TempDir(), "trackcurator")
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = normalizeExtension(ext)
		if ext == "" || seen[ext] {
			continue
		}
		seen[ext] = true
		out = append(out, ext)
	}
	return out
}
