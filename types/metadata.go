// Package types defines the data shapes shared across exifpipe packages.
package types

import (
	"path/filepath"
	"sort"
)

// Well-known exiftool tag names.
const (
	TagSourceFile = "SourceFile"
	TagFileName   = "FileName"
	TagFileType   = "FileType"
	TagDirectory  = "Directory"
)

// Record is one per-file metadata object from an exiftool JSON response.
// Values are whatever exiftool emitted; they are not interpreted.
type Record map[string]any

// Metadata is one decoded response: one Record per matched file.
type Metadata []Record

// String returns the string value of tag, or "" if the tag is absent or
// not a string.
func (r Record) String(tag string) string {
	if s, ok := r[tag].(string); ok {
		return s
	}
	return ""
}

// SourceFile returns the path exiftool reported for this record.
func (r Record) SourceFile() string {
	return r.String(TagSourceFile)
}

// FileType returns the detected file type (e.g. "PNG", "JPEG").
// Grouped output (-g) nests it under "File"; both layouts are handled.
func (r Record) FileType() string {
	if ft := r.String(TagFileType); ft != "" {
		return ft
	}
	if group, ok := r["File"].(map[string]any); ok {
		if ft, ok := group[TagFileType].(string); ok {
			return ft
		}
	}
	return ""
}

// FileName returns the FileName tag, falling back to the base name of
// SourceFile when the tag was not requested.
func (r Record) FileName() string {
	if name := r.String(TagFileName); name != "" {
		return name
	}
	if src := r.SourceFile(); src != "" {
		return filepath.Base(src)
	}
	return ""
}

// FileNames returns the file names of all records, sorted.
func (m Metadata) FileNames() []string {
	names := make([]string, 0, len(m))
	for _, r := range m {
		names = append(names, r.FileName())
	}
	sort.Strings(names)
	return names
}
