package repository

import (
	"errors"

	"github.com/vrsandeep/repokeep/internal/hosting"
	"github.com/vrsandeep/repokeep/internal/validation"
)

var (
	// ErrNotModified means the remote did not change since the last fetch.
	ErrNotModified = hosting.ErrNotModified
	// ErrValidationFailed means one or more checks failed.
	ErrValidationFailed = validation.ErrValidationFailed

	ErrInvalidManifest    = errors.New("invalid manifest")
	ErrMissingManifest    = errors.New("missing manifest")
	ErrMissingDescription = errors.New("repository has no description")
	ErrDownloadFailed     = errors.New("download failed")
	ErrUninstallBlocked   = errors.New("uninstall blocked")
	ErrIncompatible       = errors.New("not compatible with the running versions")
	ErrNotInstalled       = errors.New("repository is not installed")
	ErrRemoved            = errors.New("repository was removed")
)
