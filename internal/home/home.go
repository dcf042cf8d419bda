package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default home directory name under the user's home.
	DefaultDirName = ".underwrite"

	// DefraDirName holds the DefraDB node's data when that backend is used.
	DefraDirName = "defradb"

	// AttachmentsDirName holds attachments stored by the local blob backend.
	AttachmentsDirName = "attachments"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	pidFileName = "underwrite.pid"
)

// Dir is the underwrite home directory.
type Dir struct {
	path string
}

// New returns the home at path, or ~/.underwrite when path is empty.
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}
	return &Dir{path: path}, nil
}

func (d *Dir) Path() string { return d.path }

// DefraPath is bind-mounted into the DefraDB container.
func (d *Dir) DefraPath() string { return filepath.Join(d.path, DefraDirName) }

func (d *Dir) AttachmentsPath() string { return filepath.Join(d.path, AttachmentsDirName) }

func (d *Dir) ConfigPath() string { return filepath.Join(d.path, ConfigFileName) }

func (d *Dir) PidPath() string { return filepath.Join(d.path, pidFileName) }

// EnsureExists creates the home directory and its subdirectories.
func (d *Dir) EnsureExists() error {
	for _, p := range []string{d.DefraPath(), d.AttachmentsPath()} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p, err)
		}
	}
	return nil
}

// Exists reports whether the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists reports whether the default config file exists.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
