package models

import "time"

// MediaType is the kind of media a request resolves.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// Valid reports whether t is a supported media type.
func (t MediaType) Valid() bool {
	return t == MediaAudio || t == MediaVideo
}

// MediaMeta is what a fetch provider returns for a source URL. SourceURL is a
// transient download link, not the original page.
type MediaMeta struct {
	Type            MediaType `json:"type"`
	Quality         string    `json:"quality"`
	Title           string    `json:"title"`
	DurationSeconds int       `json:"duration"`
	SourceURL       string    `json:"src_url"`
}

// CacheRecord maps a URL hash to the durable blob it was uploaded as.
// Records are immutable once written.
type CacheRecord struct {
	URLHash         string    `db:"url_hash" json:"hash"`
	MediaType       MediaType `db:"media_type" json:"type"`
	Quality         string    `db:"quality" json:"quality"`
	Title           string    `db:"title" json:"title"`
	DurationSeconds int       `db:"duration_seconds" json:"duration"`
	SourceURL       string    `db:"source_url" json:"src_url"`
	BlobFileRef     string    `db:"blob_file_ref" json:"file_id"`
	BlobMessageRef  string    `db:"blob_message_ref" json:"message_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// MediaResult is the payload returned to clients for a media request.
type MediaResult struct {
	MediaMeta
	Cached         bool   `json:"cached"`
	BlobFileRef    string `json:"file_id,omitempty"`
	BlobMessageRef string `json:"message_id,omitempty"`
}
