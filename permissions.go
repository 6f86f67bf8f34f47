package warren

import (
	"path/filepath"
	"sort"
	"strings"
)

// Permissions controls what an agent's tools may touch. Paths are absolute,
// cleaned and deduplicated. Permissions are owned by their agent and mutated
// only by applying a PermissionDecision through the inbox.
type Permissions struct {
	WorkingDir string   `json:"working_dir,omitempty"`
	WriteDirs  []string `json:"write_dirs"`
	ReadDirs   []string `json:"read_dirs"`
	Web        bool     `json:"web"`
}

// AccessKind names the capability a permission decision grants or revokes.
type AccessKind string

const (
	AccessWeb   AccessKind = "web"
	AccessRead  AccessKind = "read"
	AccessWrite AccessKind = "write"
)

// AccessRequest is one requested capability.
type AccessRequest struct {
	Kind AccessKind `json:"kind"`
	Path string     `json:"path,omitempty"`
}

// PermissionDecision is the user's answer to a permission request.
type PermissionDecision struct {
	Approved bool            `json:"approved"`
	Access   []AccessRequest `json:"access"`
}

// DefaultPermissions returns the permissions a fresh or reset agent starts with.
func DefaultPermissions(workingDir string) Permissions {
	return Permissions{
		WorkingDir: workingDir,
		WriteDirs:  []string{},
		ReadDirs:   []string{},
	}
}

// Apply merges a decision into the permissions. Grants are applied in the
// order web, read, write regardless of the order requested. Path grants that
// are not absolute after cleaning are rejected with ErrPathNotAbsolute.
// Denied decisions leave the permissions unchanged.
func (p Permissions) Apply(d PermissionDecision) (Permissions, error) {
	if !d.Approved {
		return p, nil
	}

	byKind := map[AccessKind][]AccessRequest{}
	for _, a := range d.Access {
		byKind[a.Kind] = append(byKind[a.Kind], a)
	}

	for range byKind[AccessWeb] {
		p.Web = true
	}
	for _, a := range byKind[AccessRead] {
		path, err := canonicalPath(a.Path)
		if err != nil {
			return p, err
		}
		p.ReadDirs = addPath(p.ReadDirs, path)
	}
	for _, a := range byKind[AccessWrite] {
		path, err := canonicalPath(a.Path)
		if err != nil {
			return p, err
		}
		p.WriteDirs = addPath(p.WriteDirs, path)
	}
	return p, nil
}

// CanRead reports whether path falls under a readable root. Write access
// implies read access.
func (p Permissions) CanRead(path string) bool {
	return underAny(path, p.ReadDirs) || underAny(path, p.WriteDirs) ||
		(p.WorkingDir != "" && under(path, p.WorkingDir))
}

// CanWrite reports whether path falls under a writable root.
func (p Permissions) CanWrite(path string) bool {
	return underAny(path, p.WriteDirs) ||
		(p.WorkingDir != "" && under(path, p.WorkingDir))
}

func canonicalPath(path string) (string, error) {
	cleaned := filepath.Clean(path)
	if !filepath.IsAbs(cleaned) {
		return "", ErrPathNotAbsolute
	}
	return cleaned, nil
}

func addPath(dirs []string, path string) []string {
	for _, d := range dirs {
		if d == path {
			return dirs
		}
	}
	dirs = append(dirs, path)
	sort.Strings(dirs)
	return dirs
}

func underAny(path string, roots []string) bool {
	for _, root := range roots {
		if under(path, root) {
			return true
		}
	}
	return false
}

func under(path, root string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
