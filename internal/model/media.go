package model

import "time"

// MediaType is the kind of media that can be favorited.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// IsValid checks whether the media type is a known value.
func (m MediaType) IsValid() bool {
	return m == MediaImage || m == MediaVideo
}

// ImageSource records where a profile image came from.
type ImageSource string

const (
	ImageUpload    ImageSource = "upload"
	ImageAffiliate ImageSource = "affiliate"
	ImageImported  ImageSource = "imported"
)

// ProfileImage is an image stored in object storage and attached to a person.
// FilePath is the object key and is unique across all rows.
type ProfileImage struct {
	ID         string      `json:"id"`
	PersonID   string      `json:"person_id"`
	FilePath   string      `json:"file_path"`
	Source     ImageSource `json:"source"`
	MimeType   string      `json:"mime_type,omitempty"`
	SizeBytes  int64       `json:"size_bytes"`
	IsPrimary  bool        `json:"is_primary"`
	UploadedAt time.Time   `json:"uploaded_at"`
	DeletedAt  *time.Time  `json:"deleted_at,omitempty"`
}

// FavoriteMedia marks an image or video as a favorite.
type FavoriteMedia struct {
	ID        int64     `json:"id"`
	MediaType MediaType `json:"media_type"`
	MediaID   string    `json:"media_id"`
	PersonID  string    `json:"person_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
