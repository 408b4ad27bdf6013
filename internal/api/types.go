package api

import (
	"io"
	"time"
)

// Role is the account role assigned by the server.
type Role string

const (
	RoleUser      Role = "user"
	RoleRecruiter Role = "recruiter"
	RoleAdmin     Role = "admin"
)

// Identity is the authenticated account as reported by GET /auth/me.
// Fields are normalized from the API response.
type Identity struct {
	ID        int64
	Email     string
	FullName  string
	Role      Role
	Active    bool
	Verified  bool
	Suspended bool
	PublicKey string
	CreatedAt time.Time
	UpdatedAt time.Time
	Profile   *Profile // nil when the account has no profile row
}

// Profile is the user-editable profile attached to an account.
type Profile struct {
	ID                int64
	UserID            int64
	Headline          string
	Location          string
	Bio               string
	PictureURL        string
	ShowEmail         bool
	ShowPhone         bool
	ShowLocation      bool
	ViewCount         int64
	AllowViewTracking bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProfileUpdate carries a partial profile update. Nil fields are left
// unchanged on the server.
type ProfileUpdate struct {
	Headline          *string `json:"headline,omitempty"`
	Location          *string `json:"location,omitempty"`
	Bio               *string `json:"bio,omitempty"`
	ShowEmail         *bool   `json:"privacy_show_email,omitempty"`
	ShowPhone         *bool   `json:"privacy_show_phone,omitempty"`
	ShowLocation      *bool   `json:"privacy_show_location,omitempty"`
	AllowViewTracking *bool   `json:"allow_profile_view_tracking,omitempty"`
}

// IsEmpty reports whether the update would change nothing.
func (u ProfileUpdate) IsEmpty() bool {
	return u.Headline == nil && u.Location == nil && u.Bio == nil &&
		u.ShowEmail == nil && u.ShowPhone == nil && u.ShowLocation == nil &&
		u.AllowViewTracking == nil
}

// ProfileStats is the summary returned by GET /profile/stats/me.
type ProfileStats struct {
	UserID         int64
	Email          string
	FullName       string
	Role           Role
	Verified       bool
	AccountCreated time.Time
	ProfileViews   int64
	ProfileUpdated time.Time // zero when the profile was never updated
}

// ResumeRecord describes a stored resume. Server-owned; only IsPublic is
// ever changed by the client, and only through an explicit toggle.
type ResumeRecord struct {
	ID               int64
	OriginalFilename string
	FileSize         int64
	FileType         string
	IsPublic         bool
	DownloadCount    int64
	UploadedAt       time.Time
	LastAccessed     time.Time // zero if never downloaded
}

// Download is an opaque resume byte stream plus the metadata the server
// sent alongside it. The caller must close Body.
type Download struct {
	Body        io.ReadCloser
	Filename    string
	ContentType string
	Size        int64 // -1 when the server did not send Content-Length
}

// TOTPSetup is the second-factor enrollment material from POST /auth/totp/enable.
type TOTPSetup struct {
	Secret          string
	QRCodePNG       []byte // decoded PNG; nil if the server sent none
	ProvisioningURI string
	Message         string
}
