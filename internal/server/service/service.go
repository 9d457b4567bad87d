// Package service holds the file admission pipeline and the administrative
// operations built on the quota, policy and storage packages.
package service

import (
	"errors"
	"time"

	"securevault/internal/server/database"
	"securevault/internal/server/policy"
	"securevault/internal/server/quota"
	"securevault/internal/server/settings"
	"securevault/internal/server/storage"
)

// Principal is the authenticated caller.
type Principal struct {
	ID    string
	Admin bool
}

// Options tunes the service.
type Options struct {
	// MaxFileSize is the hard per-upload ceiling; the max_file_size setting
	// can only lower it.
	MaxFileSize       int64
	ArchiveExtensions []string
	ArchiveLimits     policy.Limits
}

// Service contains the business logic for files, quotas and administration.
type Service struct {
	store    database.Store
	blobs    storage.Store
	settings *settings.Provider
	policy   *policy.ExtensionPolicy
	archives *policy.ArchiveInspector
	ledger   *quota.Ledger
	opts     Options
	now      func() time.Time
}

// NewService creates a new service.
func NewService(store database.Store, blobs storage.Store, sp *settings.Provider, opts Options) *Service {
	extPolicy := policy.NewExtensionPolicy(store)
	return &Service{
		store:    store,
		blobs:    blobs,
		settings: sp,
		policy:   extPolicy,
		archives: policy.NewArchiveInspector(extPolicy, opts.ArchiveLimits, opts.ArchiveExtensions),
		ledger:   quota.NewLedger(quota.NewResolver(sp)),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func requireAdmin(p Principal) error {
	if !p.Admin {
		return forbidden()
	}
	return nil
}

// lookupError maps a record lookup failure to NOT_FOUND or STORAGE_FAILURE.
func lookupError(err error, what string) error {
	if errors.Is(err, database.ErrNotFound) {
		return notFound(what)
	}
	return storageFailure(err)
}
