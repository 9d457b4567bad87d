package api

import (
	"time"

	"github.com/dustin/go-humanize"

	"securevault/internal/server/database"
	"securevault/internal/server/service"
)

type fileResponse struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Name          string    `json:"name"`
	Size          int64     `json:"size"`
	FormattedSize string    `json:"formatted_size"`
	Extension     string    `json:"extension,omitempty"`
	MimeType      string    `json:"mime_type"`
	Checksum      string    `json:"checksum"`
	CreatedAt     time.Time `json:"created_at"`
}

func newFileResponse(f *database.FileRecord) fileResponse {
	return fileResponse{
		ID:            f.ID,
		OwnerID:       f.OwnerID,
		Name:          f.DisplayName,
		Size:          f.SizeBytes,
		FormattedSize: humanize.IBytes(uint64(f.SizeBytes)),
		Extension:     f.Extension,
		MimeType:      f.MimeType,
		Checksum:      f.Checksum,
		CreatedAt:     f.CreatedAt,
	}
}

func newFileResponses(files []*database.FileRecord) []fileResponse {
	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, newFileResponse(f))
	}
	return out
}

type groupResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	StorageLimit *int64    `json:"storage_limit"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newGroupResponse(g *database.Group) groupResponse {
	return groupResponse{
		ID:           g.ID,
		Name:         g.Name,
		Description:  g.Description,
		StorageLimit: g.Limit,
		CreatedAt:    g.CreatedAt,
		UpdatedAt:    g.UpdatedAt,
	}
}

func newGroupResponses(groups []*database.Group) []groupResponse {
	out := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, newGroupResponse(g))
	}
	return out
}

type userResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	StorageLimit *int64          `json:"storage_limit"`
	StorageUsed  int64           `json:"storage_used"`
	Groups       []groupResponse `json:"groups,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func newUserResponse(u *database.User, groups []*database.Group) userResponse {
	r := userResponse{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		StorageLimit: u.ExplicitLimit,
		StorageUsed:  u.ConsumedBytes,
		CreatedAt:    u.CreatedAt,
	}
	if groups != nil {
		r.Groups = newGroupResponses(groups)
	}
	return r
}

func newUserResponses(views []service.UserView) []userResponse {
	out := make([]userResponse, 0, len(views))
	for _, v := range views {
		out = append(out, newUserResponse(v.User, v.Groups))
	}
	return out
}

type ruleResponse struct {
	ID           string    `json:"id"`
	Extension    string    `json:"extension"`
	IsProhibited bool      `json:"is_prohibited"`
	Description  string    `json:"description"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newRuleResponse(r *database.ExtensionRule) ruleResponse {
	return ruleResponse{
		ID:           r.ID,
		Extension:    r.Extension,
		IsProhibited: r.IsProhibited,
		Description:  r.Description,
		UpdatedAt:    r.UpdatedAt,
	}
}

type settingResponse struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}
