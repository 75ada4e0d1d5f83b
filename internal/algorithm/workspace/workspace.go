// Package workspace lays out per-submission build directories.
//
// Layout: <root>/<user_id>/<submission_id>/<name>.<ext> plus <name>.<exe ext>.
// Other components reconstruct artifact paths from this layout, so it must not change.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	appErr "algohub/pkg/errors"
)

const DefaultExecutableExt = "exe"

// Workspace is one submission's directory.
type Workspace struct {
	Root         string
	UserID       string
	SubmissionID int64
	Dir          string
}

// Manager resolves and creates workspaces. It never deletes anything.
type Manager struct {
	root   string
	exeExt string
}

// NewManager creates a manager rooted at root. An empty exeExt uses "exe".
func NewManager(root, exeExt string) (*Manager, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if exeExt == "" {
		exeExt = DefaultExecutableExt
	}
	return &Manager{root: abs, exeExt: strings.TrimPrefix(exeExt, ".")}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Resolve is pure: it computes the directory without touching the filesystem.
func (m *Manager) Resolve(userID string, submissionID int64) (Workspace, error) {
	if err := validateSegment("user id", userID); err != nil {
		return Workspace{}, err
	}
	id := strconv.FormatInt(submissionID, 10)
	return Workspace{
		Root:         m.root,
		UserID:       userID,
		SubmissionID: submissionID,
		Dir:          filepath.Join(m.root, userID, id),
	}, nil
}

// Ensure creates the workspace directory. Calling it again is a no-op.
func (m *Manager) Ensure(ws Workspace) error {
	if ws.Dir == "" {
		return appErr.New(appErr.WorkspaceUnavailable).WithMessage("workspace is not resolved")
	}
	if err := os.MkdirAll(ws.Dir, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceUnavailable, "create workspace %s failed", ws.Dir)
	}
	return nil
}

// SourcePath returns <dir>/<name>.<ext>.
func (m *Manager) SourcePath(ws Workspace, name, ext string) (string, error) {
	if err := validateSegment("name", name); err != nil {
		return "", err
	}
	return filepath.Join(ws.Dir, name+"."+strings.TrimPrefix(ext, ".")), nil
}

// ExecutablePath returns <dir>/<name>.<exe ext>.
func (m *Manager) ExecutablePath(ws Workspace, name string) (string, error) {
	if err := validateSegment("name", name); err != nil {
		return "", err
	}
	return filepath.Join(ws.Dir, name+"."+m.exeExt), nil
}

func validateSegment(field, v string) error {
	if v == "" || v == "." || v == ".." || strings.ContainsAny(v, `/\`) || strings.ContainsRune(v, 0) {
		return appErr.ValidationError(field, "must be a single path segment")
	}
	return nil
}

// ValidateName checks that a submission name can be used as a file name in the layout.
func ValidateName(name string) error {
	return validateSegment("name", name)
}

// ValidateUserID checks that a user id can be used as a directory in the layout.
func ValidateUserID(userID string) error {
	return validateSegment("user id", userID)
}
