package texpath

import (
	"path"
	"strings"
)

// Class describes how a local path relates to the managed texture tree.
type Class int

const (
	// ClassManaged paths correspond to a file tracked in the remote tree.
	ClassManaged Class = iota
	// ClassExcluded paths live under the user customs folder and are
	// never read, hashed, written or deleted.
	ClassExcluded
	// ClassUnmanaged paths are hidden files or other entries the engine
	// ignores entirely.
	ClassUnmanaged
)

// Classification is the result of classifying a local path.
type Classification struct {
	Class Class
	// Canonical is the remote-relative path in enabled form. Only set
	// for ClassManaged.
	Canonical string
	// Disabled reports whether the local filename carries the disable
	// marker. Only meaningful for ClassManaged.
	Disabled bool
}

// Codec translates between canonical (remote-relative) paths and their
// local on-disk representations. All methods are pure string functions;
// they never touch the filesystem.
type Codec struct {
	// CustomsDir is the folder name under the managed root that holds
	// user-supplied files (e.g. "user-customs").
	CustomsDir string
	// Marker is the disable prefix on a filename (e.g. "-").
	Marker string
}

// NewCodec creates a codec for the given customs folder and disable marker.
func NewCodec(customsDir, marker string) Codec {
	return Codec{CustomsDir: customsDir, Marker: marker}
}

// ToLocal returns the on-disk relative path for a canonical path. When
// disabled is true the final segment is prefixed with the disable marker.
func (c Codec) ToLocal(canonical string, disabled bool) string {
	if !disabled {
		return canonical
	}
	return c.DisabledVariant(canonical)
}

// DisabledVariant returns the dash-prefixed form of a canonical path.
func (c Codec) DisabledVariant(canonical string) string {
	dir, file := splitPath(canonical)
	if dir == "" {
		return c.Marker + file
	}
	return dir + "/" + c.Marker + file
}

// EnabledVariant strips the disable marker from the final segment. It
// returns the input unchanged if the segment is not marked.
func (c Codec) EnabledVariant(local string) string {
	dir, file := splitPath(local)
	if !strings.HasPrefix(file, c.Marker) {
		return local
	}
	file = strings.TrimPrefix(file, c.Marker)
	if dir == "" {
		return file
	}
	return dir + "/" + file
}

// IsDisabledName reports whether the final path segment carries the
// disable marker.
func (c Codec) IsDisabledName(local string) bool {
	_, file := splitPath(local)
	return strings.HasPrefix(file, c.Marker)
}

// Classify maps a root-relative local path to its canonical identity.
// Paths under the customs folder are Excluded; hidden files and anything
// inside a hidden directory are Unmanaged; everything else is Managed,
// with the disable marker resolved into the Disabled flag.
func (c Codec) Classify(local string) Classification {
	local = path.Clean(strings.ReplaceAll(local, "\\", "/"))

	if c.isUnderCustoms(local) {
		return Classification{Class: ClassExcluded}
	}
	for _, component := range strings.Split(local, "/") {
		if strings.HasPrefix(component, ".") {
			return Classification{Class: ClassUnmanaged}
		}
	}

	if c.IsDisabledName(local) {
		return Classification{
			Class:     ClassManaged,
			Canonical: c.EnabledVariant(local),
			Disabled:  true,
		}
	}
	return Classification{Class: ClassManaged, Canonical: local}
}

// isUnderCustoms reports whether any component of the path names the
// customs folder. The remote tree never contains the customs folder, so
// matching by name is sufficient on both sides.
func (c Codec) isUnderCustoms(local string) bool {
	if c.CustomsDir == "" {
		return false
	}
	for _, component := range strings.Split(local, "/") {
		if component == c.CustomsDir {
			return true
		}
	}
	return false
}

// IsJunkName reports whether a bare filename is OS litter that cleanup
// may remove: hidden files plus the usual Windows artifacts.
func IsJunkName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch strings.ToLower(name) {
	case "thumbs.db", "desktop.ini", "ehthumbs.db":
		return true
	}
	return false
}

// splitPath separates the directory portion from the final segment of a
// slash-separated path. The directory is "" for bare filenames.
func splitPath(p string) (dir, file string) {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return "", p
	}
	return p[:idx], p[idx+1:]
}
