// Package workspace derives the identity that isolates sessions: a
// workspace root, its stable id, and a namespace within it.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// DefaultNamespace is used when none is given or normalization empties it.
	DefaultNamespace = "default"
	// StateDir is the versioned state directory under <root>/playwright.
	StateDir = ".playwire-v1"
	// DescriptorFile is the per-namespace session descriptor name.
	DescriptorFile = "session.json"
)

// Scope is a workspace root plus a namespace.
type Scope struct {
	root        string
	workspaceID string
	namespace   string
}

// NewScope canonicalizes root and normalizes namespace.
func NewScope(root, namespace string) Scope {
	canonical := canonicalize(root)
	return Scope{
		root:        canonical,
		workspaceID: hashID(canonical),
		namespace:   NormalizeNamespace(namespace),
	}
}

func (s Scope) Root() string        { return s.root }
func (s Scope) WorkspaceID() string { return s.workspaceID }
func (s Scope) Namespace() string   { return s.namespace }

// NamespaceID is "{workspace id}:{namespace}".
func (s Scope) NamespaceID() string {
	return s.workspaceID + ":" + s.namespace
}

// SessionKey is the deterministic reuse key for a browser configuration.
func (s Scope) SessionKey(browser string, headless bool) string {
	mode := "headful"
	if headless {
		mode = "headless"
	}
	return s.NamespaceID() + ":" + browser + ":" + mode
}

// StateRoot holds all playwire state for the workspace.
func (s Scope) StateRoot() string {
	return filepath.Join(s.root, "playwright", StateDir)
}

// NamespaceDir holds per-namespace session state.
func (s Scope) NamespaceDir() string {
	return filepath.Join(s.StateRoot(), "namespaces", s.namespace)
}

// DescriptorPath is where the namespace's session descriptor lives.
func (s Scope) DescriptorPath() string {
	return filepath.Join(s.NamespaceDir(), DescriptorFile)
}

// AuthDir holds storage state files injected into attached sessions.
func (s Scope) AuthDir() string {
	return filepath.Join(s.StateRoot(), "profiles", s.namespace, "auth")
}

// AuthFiles lists *.json files in AuthDir, sorted. A missing directory
// yields none.
func (s Scope) AuthFiles() []string {
	entries, err := os.ReadDir(s.AuthDir())
	if err != nil {
		return nil
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		files = append(files, filepath.Join(s.AuthDir(), entry.Name()))
	}
	sort.Strings(files)
	return files
}

// NormalizeNamespace replaces characters outside [A-Za-z0-9._-] with '-',
// trims leading and trailing dashes, and falls back to DefaultNamespace.
func NormalizeNamespace(namespace string) string {
	var sb strings.Builder
	sb.Grow(len(namespace))
	for _, r := range namespace {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	out := strings.Trim(sb.String(), "-")
	if out == "" {
		return DefaultNamespace
	}
	return out
}

func canonicalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}

func hashID(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
