package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// FilesystemStore implements Store on a local directory tree rooted at a
// configured directory. Every resolved path is checked to remain inside
// the root.
type FilesystemStore struct {
	root   string
	logger logger.Logger
}

// NewFilesystemStore creates a filesystem-backed blob store. The root
// directory is created if missing.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBlob, errors.CodeInvalidPath,
			fmt.Sprintf("cannot resolve storage root %s", root))
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBlob, errors.CodeInvalidPath,
			fmt.Sprintf("cannot create storage root %s", absRoot))
	}
	return &FilesystemStore{
		root:   absRoot,
		logger: logger.GetGlobalLogger().WithComponent("blobstore"),
	}, nil
}

// resolve validates the components and returns the absolute path, verifying
// containment within the root.
func (s *FilesystemStore) resolve(components ...string) (string, error) {
	for _, c := range components {
		if err := ValidateComponent("path component", c); err != nil {
			return "", err
		}
	}
	path := filepath.Join(append([]string{s.root}, components...)...)
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.InvalidPath("path", path)
	}
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(os.PathSeparator)) {
		return "", errors.InvalidPath("path", path)
	}
	return abs, nil
}

// Save writes the blob, creating the gateway directory if needed.
func (s *FilesystemStore) Save(gateway, filename string, data []byte) (string, error) {
	path, err := s.resolve(gateway, filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, errors.CategoryBlob, errors.CodeInvalidPath,
			fmt.Sprintf("cannot create gateway directory for %s", gateway))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, errors.CategoryBlob, errors.CodeInvalidPath,
			fmt.Sprintf("cannot write blob %s/%s", gateway, filename))
	}
	return path, nil
}

// Read returns the blob bytes.
func (s *FilesystemStore) Read(gateway, filename string) ([]byte, error) {
	path, err := s.resolve(gateway, filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("blob", gateway+"/"+filename, err)
		}
		return nil, errors.Wrap(err, errors.CategoryBlob, errors.CodeNotFound,
			fmt.Sprintf("cannot read blob %s/%s", gateway, filename))
	}
	return data, nil
}

// List returns the supported upload filenames under the gateway prefix.
func (s *FilesystemStore) List(gateway string) ([]string, error) {
	path, err := s.resolve(gateway)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.Wrap(err, errors.CategoryBlob, errors.CodeNotFound,
			fmt.Sprintf("cannot list gateway %s", gateway))
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if SupportedExtension(entry.Name()) {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

// Exists reports whether the blob is present.
func (s *FilesystemStore) Exists(gateway, filename string) (bool, error) {
	path, err := s.resolve(gateway, filename)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.CategoryBlob, errors.CodeNotFound,
			fmt.Sprintf("cannot stat blob %s/%s", gateway, filename))
	}
	return true, nil
}

// Delete removes the blob, reporting whether it existed.
func (s *FilesystemStore) Delete(gateway, filename string) (bool, error) {
	path, err := s.resolve(gateway, filename)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.CategoryBlob, errors.CodeNotFound,
			fmt.Sprintf("cannot delete blob %s/%s", gateway, filename))
	}
	return true, nil
}

// EnsureGatewayDir creates the gateway prefix.
func (s *FilesystemStore) EnsureGatewayDir(gateway string) error {
	path, err := s.resolve(gateway)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrap(err, errors.CategoryBlob, errors.CodeInvalidPath,
			fmt.Sprintf("cannot create gateway directory %s", gateway))
	}
	return nil
}

// Archive writes a timestamped copy under {gateway}/archive/. Failures are
// logged and swallowed: losing an audit copy must never fail a run.
func (s *FilesystemStore) Archive(gateway, filename string, data []byte) {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	archived := fmt.Sprintf("%s_%s%s", stem,
		time.Now().UTC().Format("20060102T150405Z"), filepath.Ext(filename))

	path, err := s.resolve(gateway, "archive", archived)
	if err != nil {
		s.logger.WithError(err).WithFields(logger.Fields{
			"gateway":  gateway,
			"filename": filename,
		}).Warn("Skipping archive copy: invalid path")
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logger.WithError(err).Warn("Skipping archive copy: cannot create archive directory")
		return
	}
	if err := os.WriteFile(path, data, 0o444); err != nil {
		s.logger.WithError(err).WithFields(logger.Fields{
			"gateway":  gateway,
			"filename": filename,
		}).Warn("Skipping archive copy: write failed")
	}
}
