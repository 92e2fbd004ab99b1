// Package provision materializes the per-target theme file and artifact
// directory. Nothing is cached: every call re-resolves from disk.
package provision

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Provisioner owns the layout <configs>/<target>.json and
// <artifacts>/<target>/.
type Provisioner struct {
	configsDir   string
	baseTemplate string
	artifactsDir string
	log          *slog.Logger
}

// New returns a Provisioner. An empty baseTemplate means
// <configsDir>/default.json.
func New(configsDir, baseTemplate, artifactsDir string, log *slog.Logger) *Provisioner {
	if baseTemplate == "" {
		baseTemplate = filepath.Join(configsDir, "default.json")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Provisioner{configsDir: configsDir, baseTemplate: baseTemplate, artifactsDir: artifactsDir, log: log}
}

func (p *Provisioner) TargetFilePath(target string) string {
	return filepath.Join(p.configsDir, target+".json")
}

func (p *Provisioner) TargetDirPath(target string) string {
	return filepath.Join(p.artifactsDir, target)
}

func (p *Provisioner) BaseTemplatePath() string { return p.baseTemplate }

// TargetExists reports whether the target file is present.
func (p *Provisioner) TargetExists(target string) bool {
	fi, err := os.Stat(p.TargetFilePath(target))
	return err == nil && fi.Mode().IsRegular()
}

// EnsureTargetFile returns the target file path, copying the base template
// first if the file does not exist. An existing file is never rewritten, but
// it is validated on every call; an invalid existing file is reported and
// left in place.
func (p *Provisioner) EnsureTargetFile(target string) (string, error) {
	dst := p.TargetFilePath(target)
	if _, err := os.Stat(dst); err == nil {
		if err := ValidateFile(dst); err != nil {
			return "", &ProvisioningError{Op: "validate", Target: target, Path: dst, Err: err}
		}
		return dst, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", &ProvisioningError{Op: "stat", Target: target, Path: dst, Err: err}
	}

	if _, err := os.Stat(p.baseTemplate); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrMissingTemplate, p.baseTemplate)
		}
		return "", &ProvisioningError{Op: "stat", Target: target, Path: p.baseTemplate, Err: err}
	}

	created, err := copyNew(p.baseTemplate, dst)
	if err != nil {
		return "", &ProvisioningError{Op: "copy", Target: target, Path: dst, Err: err}
	}
	if !created {
		// lost a race with another caller; treat like the existing-file path
		return p.EnsureTargetFile(target)
	}
	if err := ValidateFile(dst); err != nil {
		if rmErr := os.Remove(dst); rmErr != nil {
			p.log.Error("removing invalid target file failed", "path", dst, "error", rmErr)
		}
		return "", &ProvisioningError{Op: "validate", Target: target, Path: dst, Err: err}
	}
	p.log.Info("created target file", "target", target, "path", dst)
	return dst, nil
}

// EnsureTargetDirectory creates the artifact directory if needed.
func (p *Provisioner) EnsureTargetDirectory(target string) (string, error) {
	dir := p.TargetDirPath(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &ProvisioningError{Op: "mkdir", Target: target, Path: dir, Err: err}
	}
	return dir, nil
}

// DeleteTargetFile removes the target file. Deleting a missing file is not an
// error; it returns false.
func (p *Provisioner) DeleteTargetFile(target string) (bool, error) {
	err := os.Remove(p.TargetFilePath(target))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, &ProvisioningError{Op: "delete", Target: target, Path: p.TargetFilePath(target), Err: err}
	}
}

// BaseTemplate decodes the base template.
func (p *Provisioner) BaseTemplate() (map[string]any, error) {
	obj, err := readObject(p.baseTemplate)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingTemplate, p.baseTemplate)
	}
	return obj, err
}

// ValidateFile checks that path decodes as a single JSON object.
func ValidateFile(path string) error {
	_, err := readObject(path)
	return err
}

func readObject(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if obj == nil {
		return nil, fmt.Errorf("decode %s: top-level value is not an object", filepath.Base(path))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: trailing data after object", filepath.Base(path))
	}
	return obj, nil
}

// copyNew copies src to dst only if dst does not exist. created is false when
// dst appeared concurrently.
func copyNew(src, dst string) (created bool, err error) {
	in, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return false, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return false, err
	}
	return true, nil
}
