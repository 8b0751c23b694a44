// Package pathinfo splits slash-separated storage paths into the name parts
// shown by a file manager. It never touches a backend.
package pathinfo

import "strings"

// Info holds the name parts derived from a path
type Info struct {
	Basename  string
	Dirname   string
	Extension string
	Filename  string
}

// Parse derives basename, dirname, extension and filename from p.
//
// The dirname of a root-level path is the empty string. A basename whose only
// dot is its first character (".gitignore") has no extension; its filename
// is the whole basename. Leading and trailing slashes are ignored, so the
// dirname is always backend-relative.
func Parse(p string) Info {
	p = strings.Trim(p, "/")

	var info Info
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		info.Dirname = p[:idx]
		info.Basename = p[idx+1:]
	} else {
		info.Basename = p
	}

	info.Extension, info.Filename = splitExtension(info.Basename)
	return info
}

// Join rebuilds the path the info was parsed from
func (i Info) Join() string {
	if i.Dirname == "" {
		return i.Basename
	}
	return i.Dirname + "/" + i.Basename
}

// Basename returns the final segment of p
func Basename(p string) string {
	return Parse(p).Basename
}

func splitExtension(base string) (ext, name string) {
	idx := strings.LastIndex(base, ".")
	if idx <= 0 {
		return "", base
	}
	return base[idx+1:], base[:idx]
}
