package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrFpcalcNotFound means the fpcalc binary (chromaprint-tools) is not installed.
	ErrFpcalcNotFound = errors.New("fpcalc not found")
	// ErrNoFingerprint means fpcalc ran but produced no usable fingerprint.
	ErrNoFingerprint = errors.New("no fingerprint")
)

// defaultFpcalcLengthSec is how many seconds of audio fpcalc uses.
const defaultFpcalcLengthSec = 120

// defaultFpcalcTimeout bounds one fpcalc invocation (it can be slow on large files).
const defaultFpcalcTimeout = 30 * time.Second

// ChromaprintFingerprint is the compressed fingerprint text fpcalc prints and
// the duration of the decoded audio.
type ChromaprintFingerprint struct {
	DurationSec float64 `json:"duration"`
	Fingerprint string  `json:"fingerprint"`
}

// Fingerprinter runs fpcalc.
type Fingerprinter struct {
	BinaryPath string
	LengthSec  int
	Timeout    time.Duration
}

func (f Fingerprinter) binary() string {
	if strings.TrimSpace(f.BinaryPath) == "" {
		return "fpcalc"
	}
	return f.BinaryPath
}

// Available reports whether the fpcalc binary can be found.
func (f Fingerprinter) Available() bool {
	_, err := exec.LookPath(f.binary())
	return err == nil
}

// Fingerprint runs `fpcalc -json` on path with a per-file timeout so one slow
// file doesn't block the scan.
func (f Fingerprinter) Fingerprint(ctx context.Context, path string) (*ChromaprintFingerprint, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultFpcalcTimeout
	}
	length := f.LengthSec
	if length <= 0 {
		length = defaultFpcalcLengthSec
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.binary(), "-json", "-length", strconv.Itoa(length), path)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("chromaprint: %w", ErrFpcalcNotFound)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("chromaprint %s: %w", path, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("chromaprint %s: %w: %s", path, ErrNoFingerprint, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("chromaprint %s: %w", path, err)
	}
	result, err := parseFpcalcJSON(out)
	if err != nil {
		return nil, fmt.Errorf("chromaprint %s: %w", path, err)
	}
	return result, nil
}

func parseFpcalcJSON(data []byte) (*ChromaprintFingerprint, error) {
	var result ChromaprintFingerprint
	if err := json.Unmarshal(bytes.TrimSpace(data), &result); err != nil {
		return nil, fmt.Errorf("parse fpcalc output: %w", err)
	}
	result.Fingerprint = strings.TrimSpace(result.Fingerprint)
	if result.Fingerprint == "" {
		return nil, ErrNoFingerprint
	}
	if len(DecodeFingerprint(result.Fingerprint)) == 0 {
		return nil, fmt.Errorf("%w: undecodable fingerprint", ErrNoFingerprint)
	}
	return &result, nil
}

// NewFingerprintVector pairs decoded values with their duration. A missing
// duration is derived from the number of values.
func NewFingerprintVector(values []uint32, duration float64) FingerprintVector {
	if duration <= 0 {
		duration = float64(len(values)) / FingerprintItemsPerSecond
	}
	return FingerprintVector{Values: values, Duration: duration}
}

// FingerprintDurationOK returns true if two durations (seconds) are close
// enough to be the same recording: within tolerance or 2%, whichever is
// larger. Unknown durations pass.
func FingerprintDurationOK(a, b, tolerance float64) bool {
	if a <= 0 || b <= 0 {
		return true
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	allowed := tolerance
	if pct := max(a, b) * 0.02; pct > allowed {
		allowed = pct
	}
	return diff <= allowed
}
