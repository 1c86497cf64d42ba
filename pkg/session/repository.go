package session

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	perrors "github.com/odvcencio/playwire/pkg/errors"
	"github.com/odvcencio/playwire/pkg/observability"
	"github.com/odvcencio/playwire/pkg/workspace"
)

// Repository stores the descriptor for one workspace namespace.
type Repository struct {
	scope workspace.Scope
}

func NewRepository(scope workspace.Scope) *Repository {
	return &Repository{scope: scope}
}

func (r *Repository) Scope() workspace.Scope { return r.scope }

func (r *Repository) Path() string { return r.scope.DescriptorPath() }

func (r *Repository) Load() (*Descriptor, error) {
	d, err := LoadDescriptor(r.Path())
	recordOp("load", err)
	return d, err
}

// Save writes d, first making sure the state root carries a .gitignore that
// keeps session material out of version control.
func (r *Repository) Save(d Descriptor) error {
	err := r.ensureIgnored()
	if err == nil {
		err = writeDescriptor(r.Path(), d)
	}
	recordOp("save", err)
	return err
}

// Clear deletes the descriptor and reports whether one existed.
func (r *Repository) Clear() (bool, error) {
	err := os.Remove(r.Path())
	switch {
	case err == nil:
		recordOp("clear", nil)
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		recordOp("clear", nil)
		return false, nil
	default:
		err = perrors.Wrap(err, perrors.ErrCodeDescriptorIO, "remove session descriptor").
			WithContext("path", r.Path())
		recordOp("clear", err)
		return false, err
	}
}

func (r *Repository) ensureIgnored() error {
	root := r.scope.StateRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return perrors.Wrap(err, perrors.ErrCodeDescriptorIO, "create state root").WithContext("path", root)
	}
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte("*\n"), 0o644); err != nil {
		return perrors.Wrap(err, perrors.ErrCodeDescriptorIO, "write state root .gitignore").WithContext("path", path)
	}
	return nil
}

// Status is the payload of `session status`.
type Status struct {
	Active      bool        `json:"active"`
	Path        string      `json:"path"`
	WorkspaceID string      `json:"workspaceId"`
	Namespace   string      `json:"namespace"`
	Alive       bool        `json:"alive"`
	Reusable    bool        `json:"reusable"`
	Descriptor  *Descriptor `json:"descriptor,omitempty"`
	AgeSeconds  int64       `json:"ageSeconds,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// Status inspects the stored descriptor without touching any browser.
func (r *Repository) Status(driverHash string) (Status, error) {
	st := Status{
		Path:        r.Path(),
		WorkspaceID: r.scope.WorkspaceID(),
		Namespace:   r.scope.Namespace(),
	}
	d, err := r.Load()
	if err != nil {
		return st, err
	}
	if d == nil {
		st.Reason = "no session descriptor"
		return st, nil
	}
	st.Active = true
	st.Descriptor = d
	st.Alive = d.IsAlive()
	if d.CreatedAt > 0 {
		st.AgeSeconds = time.Now().Unix() - d.CreatedAt
	}
	switch {
	case !d.BelongsTo(r.scope):
		st.Reason = "descriptor belongs to another workspace or namespace"
	case !st.Alive:
		st.Reason = "owning process is not running"
	case d.Endpoint() == "":
		st.Reason = "descriptor has no endpoint"
	case driverHash != "" && d.DriverHash != "" && d.DriverHash != driverHash:
		st.Reason = "descriptor was written by another playwire version"
	default:
		st.Reusable = true
	}
	return st, nil
}

// ClearReport is the payload of `session clear`.
type ClearReport struct {
	Path    string `json:"path"`
	Removed bool   `json:"removed"`
}

func (r *Repository) ClearReport() (ClearReport, error) {
	removed, err := r.Clear()
	return ClearReport{Path: r.Path(), Removed: removed}, err
}

func recordOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(perrors.GetCode(err))
	}
	observability.DescriptorOps.WithLabelValues(op, result).Inc()
}
