package database

import "time"

// User is a principal that owns files and is subject to a storage quota.
type User struct {
	ID    string
	Name  string
	Email string
	// ExplicitLimit is the per-user ceiling in bytes; nil defers to the
	// first group and then to the system default.
	ExplicitLimit *int64
	// ConsumedBytes caches the sum of the user's live file sizes. Only the
	// usage ledger writes it.
	ConsumedBytes int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Group is a named set of users that may carry a shared storage ceiling.
type Group struct {
	ID          string
	Name        string
	Description string
	Limit       *int64 // nil defers to the system default
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FileRecord is the metadata of an admitted upload.
type FileRecord struct {
	ID           string
	OwnerID      string
	DisplayName  string
	StoredHandle string
	SizeBytes    int64
	Extension    string
	MimeType     string
	Checksum     string // blake2b-256, hex
	CreatedAt    time.Time
}

// ExtensionRule marks a lower-case file extension as prohibited or allowed.
type ExtensionRule struct {
	ID           string
	Extension    string
	IsProhibited bool
	Description  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Setting value types.
const (
	SettingString  = "string"
	SettingInteger = "integer"
	SettingBoolean = "boolean"
	SettingJSON    = "json"
)

// Setting is one typed entry of the system key/value store.
type Setting struct {
	Key         string
	Value       string
	Type        string
	Description string
	UpdatedAt   time.Time
}
