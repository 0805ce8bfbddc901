package keystores

import (
	"path"
	"strings"

	qerrors "github.com/systmms/quickmanage/internal/errors"
)

// normalize maps local, in-memory and object-key spellings of a path onto
// one relative form so they can be compared
func normalize(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// within reports whether p lies strictly below root
func within(root, p string) bool {
	root, p = normalize(root), normalize(p)
	if root == "" {
		return p != ""
	}
	return strings.HasPrefix(p, root+"/")
}

// relative returns p relative to root, assuming within(root, p)
func relative(root, p string) string {
	root, p = normalize(root), normalize(p)
	if root == "" {
		return p
	}
	return strings.TrimPrefix(p, root+"/")
}

// contained joins elems onto root and rejects results that leave root. No
// I/O happens before this check passes.
func contained(root string, elems ...string) (string, error) {
	joined := path.Join(append([]string{root}, elems...)...)
	// a relative join that climbs out keeps its leading ".."
	climbs := joined == ".." || strings.HasPrefix(joined, "../")
	if climbs || !within(root, joined) {
		return "", qerrors.SecurityError{Path: joined, Root: root}
	}
	return joined, nil
}
