package ephemeral

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nace/lxkit/internal/storage"
	"github.com/nace/lxkit/internal/system"
)

// ManifestFile is written into the container directory for background
// sessions.
const ManifestFile = ".lxkit-session.json"

const manifestVersion = 1

// Manifest is everything a separate process needs to run and tear down a
// created session.
type Manifest struct {
	Version  int                  `json:"version"`
	Original string               `json:"original"`
	Path     string               `json:"path"`
	LXCDir   string               `json:"lxc_dir"`
	TmpDir   string               `json:"tmp_dir"`
	Union    storage.Union        `json:"union"`
	Command  string               `json:"command,omitempty"`
	Upper    *storage.Descriptor  `json:"upper,omitempty"`
	Overlay  *storage.Descriptor  `json:"overlay,omitempty"`
	Binds    []storage.Descriptor `json:"binds,omitempty"`
}

// Manifest describes the session.
func (s *Session) Manifest() Manifest {
	m := Manifest{
		Version:  manifestVersion,
		Original: s.opts.Original,
		Path:     s.path,
		LXCDir:   s.opts.LXCDir,
		TmpDir:   s.opts.TmpDir,
		Union:    s.opts.Union,
		Command:  s.opts.Command,
	}
	if s.upper != nil {
		d := s.upper.Describe()
		m.Upper = &d
	}
	if s.overlay != nil {
		d := s.overlay.Describe()
		m.Overlay = &d
	}
	for _, b := range s.binds {
		m.Binds = append(m.Binds, b.Describe())
	}
	return m
}

// WriteManifest stores the manifest in the container directory and
// returns its path.
func (s *Session) WriteManifest() (string, error) {
	data, err := json.MarshalIndent(s.Manifest(), "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.path, ManifestFile)
	if err := system.WriteFileAtomic(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write session manifest: %w", err)
	}
	return path, nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("failed to read session manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse session manifest %s: %w", path, err)
	}
	if m.Version != manifestVersion {
		return m, system.InvalidArgument("unsupported session manifest version %d", m.Version)
	}
	if m.Path == "" || m.Original == "" {
		return m, system.InvalidArgument("session manifest %s is incomplete", path)
	}
	return m, nil
}

// Restore rebuilds a created session from its manifest. No resources are
// created; the session takes ownership of the existing ones.
func Restore(deps Deps, m Manifest) (*Session, error) {
	opts := Options{
		Original: m.Original,
		LXCDir:   m.LXCDir,
		TmpDir:   m.TmpDir,
		Union:    m.Union,
		Command:  m.Command,
	}
	opts, err := opts.withDefaults(deps.Container)
	if err != nil {
		return nil, err
	}
	deps.Container.BasePath = opts.LXCDir

	s := newSession(deps, opts, m.Path)
	if m.Upper != nil {
		if s.upper, err = deps.Storage.Restore(*m.Upper); err != nil {
			return nil, err
		}
	}
	if m.Overlay != nil {
		if s.overlay, err = deps.Storage.Restore(*m.Overlay); err != nil {
			return nil, err
		}
	}
	for _, d := range m.Binds {
		b, err := deps.Storage.Restore(d)
		if err != nil {
			return nil, err
		}
		s.binds = append(s.binds, b)
	}
	return s, nil
}

// RunManifest is the body of a background session: restore it from the
// manifest at path and run it in the foreground of this process.
func RunManifest(ctx context.Context, deps Deps, path string) error {
	m, err := ReadManifest(path)
	if err != nil {
		return err
	}
	s, err := Restore(deps, m)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).Warn("failed to remove session manifest")
	}
	return s.Start(ctx, Foreground)
}
