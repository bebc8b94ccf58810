package filesystem

import (
	"fmt"
	"strings"

	"github.com/rfratto/vfsbridge/internal/vfs"
)

// checkTraversal rejects paths with a "." or ".." segment.
func checkTraversal(p string) error {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("path %q contains traversal segment %q: %w", p, seg, vfs.ErrorInvalidValues)
		}
	}
	return nil
}

// checkContained rejects target paths that don't live under base. This only
// catches obvious mistakes; the collaborator enforces real permissions.
func checkContained(base, target string) error {
	base = strings.TrimSuffix(base, "/")
	if target == base || strings.HasPrefix(target, base+"/") {
		return nil
	}
	return fmt.Errorf("path %q is outside of %q: %w", target, base, vfs.ErrorNotFound)
}

// parentPath returns everything before the last '/' of p, or false if p has
// no parent. Virtual roots like "documents" have no '/' and so no parent.
func parentPath(p string) (string, bool) {
	idx := strings.LastIndex(p, "/")
	switch {
	case idx < 0, p == "/":
		return "", false
	case idx == 0:
		return "/", true
	}
	return p[:idx], true
}
