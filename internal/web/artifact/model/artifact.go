// Package model contains the artifact records and the canonical info shape.
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ContentTypeJAR is the content type of compiled plugin binaries.
const ContentTypeJAR = "application/java-archive"

// Metadata is descriptive plugin information, nothing depends on it.
type Metadata struct {
	Version          string   `bson:"version" json:"version"`
	Author           string   `bson:"author" json:"author"`
	Description      string   `bson:"description" json:"description"`
	MinecraftVersion string   `bson:"minecraft_version" json:"minecraftVersion"`
	Dependencies     []string `bson:"dependencies" json:"dependencies"`
}

// Artifact is the stored record of one compiled plugin, keyed by (UserID, PluginName).
// The binary itself lives in the blob store under ObjectKey.
type Artifact struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID      string             `bson:"user_id" json:"userId"`
	PluginName  string             `bson:"plugin_name" json:"pluginName"`
	ObjectKey   string             `bson:"object_key" json:"-"`
	FileName    string             `bson:"file_name" json:"fileName"`
	FileSize    int64              `bson:"file_size" json:"fileSize"`
	Checksum    string             `bson:"checksum,omitempty" json:"checksum,omitempty"`
	ContentType string             `bson:"content_type" json:"contentType"`
	CompiledAt  time.Time          `bson:"compiled_at" json:"compiledAt"`
	Metadata    Metadata           `bson:"metadata" json:"metadata"`
	IsDeleted   bool               `bson:"is_deleted" json:"-"`
	DeletedAt   *time.Time         `bson:"deleted_at,omitempty" json:"-"`
	CreatedAt   time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updatedAt"`
}

// HasBinary reports whether the record points at a non-empty binary.
func (a *Artifact) HasBinary() bool {
	return a != nil && a.ObjectKey != "" && a.FileSize > 0
}

// Binary is a loaded artifact payload.
type Binary struct {
	Data        []byte
	FileName    string
	Size        int64
	ContentType string
	Checksum    string
}
