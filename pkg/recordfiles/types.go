package recordfiles

import (
	"time"

	"github.com/google/uuid"
)

// FileStatus is the domain type for file entry lifecycle states.
type FileStatus string

// File status constants (typed).
const (
	FileStatusPending   FileStatus = "pending"
	FileStatusCompleted FileStatus = "completed"
)

// Kind discriminates derived artifacts from primary files.
type Kind string

// Derived artifact kinds. A primary file has no kind.
const (
	KindThumbnail Kind = "thumbnail"
	KindFulltext  Kind = "fulltext"
)

// Metadata keys written on derived artifacts.
const (
	MetadataKind      = "kind"
	MetadataSourceKey = "source_key"
)

// IsDerivedKind reports whether k names a pipeline-generated artifact kind.
func IsDerivedKind(k Kind) bool {
	return k == KindThumbnail || k == KindFulltext
}

// Record is the parent container owning file entries.
type Record struct {
	ID        uuid.UUID              `json:"id"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt time.Time              `json:"created"`
	UpdatedAt time.Time              `json:"updated"`
}

// File is a file entry of a record. Primary files and derived artifacts
// share this shape; derived artifacts carry a kind and a source key in
// their metadata.
type File struct {
	ID                 uuid.UUID              `json:"file_id"`
	RecordID           uuid.UUID              `json:"record_id"`
	Key                string                 `json:"key"`
	MimeType           string                 `json:"mimetype,omitempty"`
	ObjectKey          string                 `json:"-"`
	StorageBackendName string                 `json:"storage_backend_name,omitempty"`
	Size               int64                  `json:"size"`
	Checksum           string                 `json:"checksum,omitempty"`
	Status             FileStatus             `json:"status"`
	Metadata           map[string]interface{} `json:"metadata"`
	CreatedAt          time.Time              `json:"created"`
	UpdatedAt          time.Time              `json:"updated"`
}

// Kind returns the artifact kind stored in the file metadata, or "" for
// primary files.
func (f *File) Kind() Kind {
	if f == nil || f.Metadata == nil {
		return ""
	}
	switch v := f.Metadata[MetadataKind].(type) {
	case string:
		return Kind(v)
	case Kind:
		return v
	}
	return ""
}

// SourceKey returns the primary key a derived artifact was generated from.
func (f *File) SourceKey() string {
	if f == nil || f.Metadata == nil {
		return ""
	}
	s, _ := f.Metadata[MetadataSourceKey].(string)
	return s
}

// IsDerived reports whether the file was generated by the artifact pipeline.
func (f *File) IsDerived() bool {
	return IsDerivedKind(f.Kind())
}

// HasContent reports whether content has been written for the entry.
func (f *File) HasContent() bool {
	return f.ObjectKey != ""
}

// Clone returns a deep-enough copy of the file: the metadata map is copied
// so callers can mutate it freely.
func (f *File) Clone() *File {
	if f == nil {
		return nil
	}
	c := *f
	c.Metadata = cloneMetadata(f.Metadata)
	return &c
}

// Clone returns a copy of the record with its own metadata map.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Metadata = cloneMetadata(r.Metadata)
	return &c
}

func cloneMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ObjectMeta contains metadata about an object in storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
	Metadata    map[string]string
}

// UploadParams contains parameters for uploading an object
type UploadParams struct {
	ObjectKey string
	MimeType  string
}
