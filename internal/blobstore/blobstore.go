// Package blobstore provides the keyed blob interface the engine uses to
// read gateway uploads. Backends are interchangeable; the engine only
// depends on the Store contract and the path-safety rules enforced here.
package blobstore

import (
	"path/filepath"
	"regexp"
	"strings"

	"payment-reconciliation-engine/pkg/errors"
)

// SupportedExtensions lists the upload file types the engine accepts.
var SupportedExtensions = []string{".xlsx", ".xls", ".csv"}

// Store is the blob contract scoped to gateway prefixes.
type Store interface {
	// Save writes bytes under {gateway}/{filename} and returns the path.
	Save(gateway, filename string, data []byte) (string, error)

	// Read returns the blob bytes, failing with NotFound if absent.
	Read(gateway, filename string) ([]byte, error)

	// List returns the supported upload files under the gateway prefix.
	// A gateway with no directory yields an empty list, not an error.
	List(gateway string) ([]string, error)

	// Exists reports whether {gateway}/{filename} is present.
	Exists(gateway, filename string) (bool, error)

	// Delete removes the blob, reporting whether it existed.
	Delete(gateway, filename string) (bool, error)

	// EnsureGatewayDir creates the gateway prefix if it does not exist.
	EnsureGatewayDir(gateway string) error

	// Archive writes a timestamped immutable copy under
	// {gateway}/archive/. Best-effort: failures are logged by the
	// backend, never propagated.
	Archive(gateway, filename string, data []byte)
}

var componentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateComponent enforces the path-safety contract on a single path
// component (gateway or filename).
func ValidateComponent(name, value string) error {
	if value == "" || !componentPattern.MatchString(value) {
		return errors.InvalidPath(name, value)
	}
	if strings.Contains(value, "..") ||
		strings.ContainsAny(value, `/\`) {
		return errors.InvalidPath(name, value)
	}
	return nil
}

// SupportedExtension reports whether the filename has one of the accepted
// upload extensions.
func SupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, supported := range SupportedExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}
