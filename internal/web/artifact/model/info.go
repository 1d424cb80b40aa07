package model

import (
	"strconv"
	"strings"
	"time"
)

// Defaults applied to fields missing from either source.
const (
	DefaultVersion          = "1.0.0"
	DefaultAuthor           = "Unknown"
	DefaultMinecraftVersion = "1.20.1"
)

// Info is the canonical artifact description returned to clients,
// whether it came from the local store or from the build backend.
type Info struct {
	Available    bool       `json:"available"`
	UserID       string     `json:"userId"`
	PluginName   string     `json:"pluginName"`
	FileName     string     `json:"fileName,omitempty"`
	FileSize     int64      `json:"fileSize,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty"`
	Checksum     string     `json:"checksum,omitempty"`
	Source       string     `json:"source,omitempty"`
	Metadata     Metadata   `json:"metadata"`
}

// Info sources
const (
	SourceLocal   = "local"
	SourceBackend = "backend"
)

// rawInfo holds possibly missing fields before defaults are applied.
type rawInfo struct {
	available    bool
	source       string
	fileName     *string
	fileSize     *int64
	lastModified *time.Time
	checksum     *string
	version      *string
	author       *string
	description  *string
	mcVersion    *string
	dependencies []string
}

// InfoFromArtifact normalizes a local record.
func InfoFromArtifact(rec *Artifact) *Info {
	raw := rawInfo{
		available: rec.HasBinary(),
		source:    SourceLocal,
		fileName:  nonEmpty(rec.FileName),
		fileSize:  &rec.FileSize,
		checksum:  nonEmpty(rec.Checksum),
		version:   nonEmpty(rec.Metadata.Version),
		author:    nonEmpty(rec.Metadata.Author),
		mcVersion: nonEmpty(rec.Metadata.MinecraftVersion),

		description:  &rec.Metadata.Description,
		dependencies: rec.Metadata.Dependencies,
	}
	if !rec.CompiledAt.IsZero() {
		t := rec.CompiledAt
		raw.lastModified = &t
	} else if !rec.UpdatedAt.IsZero() {
		t := rec.UpdatedAt
		raw.lastModified = &t
	}

	return normalize(rec.UserID, rec.PluginName, raw)
}

// InfoFromBackend normalizes a build backend document.
// The backend has shipped several field spellings over time, the first present one wins.
func InfoFromBackend(userID, pluginName string, doc map[string]any) *Info {
	meta, _ := doc["metadata"].(map[string]any)
	lookup := func(keys ...string) any {
		for _, src := range []map[string]any{doc, meta} {
			if src == nil {
				continue
			}
			for _, k := range keys {
				if v, ok := src[k]; ok && v != nil {
					return v
				}
			}
		}
		return nil
	}

	raw := rawInfo{
		available:    true,
		source:       SourceBackend,
		fileName:     asString(lookup("fileName", "file_name", "jarName", "filename")),
		fileSize:     asInt64(lookup("fileSize", "file_size", "size")),
		lastModified: asTime(lookup("lastModified", "compiledAt", "compiled_at", "updatedAt")),
		checksum:     asString(lookup("checksum", "sha256")),
		version:      asString(lookup("version")),
		author:       asString(lookup("author")),
		description:  asString(lookup("description")),
		mcVersion:    asString(lookup("minecraftVersion", "minecraft_version", "mcVersion")),
		dependencies: asStrings(lookup("dependencies", "depends")),
	}
	if v, ok := doc["available"].(bool); ok {
		raw.available = v
	}

	return normalize(userID, pluginName, raw)
}

// PlaceholderInfo is the description of an artifact that does not exist yet.
func PlaceholderInfo(userID, pluginName string) *Info {
	return normalize(userID, pluginName, rawInfo{})
}

func normalize(userID, pluginName string, raw rawInfo) *Info {
	info := &Info{
		Available:    raw.available,
		UserID:       userID,
		PluginName:   pluginName,
		Source:       raw.source,
		LastModified: raw.lastModified,
		Metadata: Metadata{
			Version:          DefaultVersion,
			Author:           DefaultAuthor,
			MinecraftVersion: DefaultMinecraftVersion,
			Dependencies:     []string{},
		},
	}

	if raw.fileName != nil {
		info.FileName = *raw.fileName
	}
	if raw.fileSize != nil {
		info.FileSize = *raw.fileSize
	}
	if raw.checksum != nil {
		info.Checksum = strings.ToLower(*raw.checksum)
	}
	if raw.version != nil {
		info.Metadata.Version = *raw.version
	}
	if raw.author != nil {
		info.Metadata.Author = *raw.author
	}
	if raw.description != nil {
		info.Metadata.Description = *raw.description
	}
	if raw.mcVersion != nil {
		info.Metadata.MinecraftVersion = *raw.mcVersion
	}
	if len(raw.dependencies) != 0 {
		info.Metadata.Dependencies = append([]string{}, raw.dependencies...)
	}

	return info
}

func nonEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func asString(v any) *string {
	switch val := v.(type) {
	case string:
		return nonEmpty(val)
	case float64:
		s := strconv.FormatFloat(val, 'f', -1, 64)
		return &s
	default:
		return nil
	}
}

func asInt64(v any) *int64 {
	var n int64
	switch val := v.(type) {
	case float64:
		n = int64(val)
	case int64:
		n = val
	case int:
		n = int64(val)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}

	return &n
}

func asTime(v any) *time.Time {
	var t time.Time
	switch val := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(val))
		if err != nil {
			return nil
		}
		t = parsed
	case float64:
		// epoch millis
		t = time.UnixMilli(int64(val)).UTC()
	default:
		return nil
	}

	return &t
}

func asStrings(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	case string:
		var out []string
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return nil
	}
}
