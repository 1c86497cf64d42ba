package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	perrors "github.com/odvcencio/playwire/pkg/errors"
	"github.com/odvcencio/playwire/pkg/workspace"
)

// SchemaVersion is the only descriptor layout this build reads. Save always
// stamps it.
const SchemaVersion = 1

// Descriptor records a session that a later invocation may attach to.
type Descriptor struct {
	SchemaVersion int         `json:"schemaVersion"`
	PID           int         `json:"pid"`
	Browser       BrowserKind `json:"browser"`
	Headless      bool        `json:"headless"`
	CDPEndpoint   string      `json:"cdpEndpoint,omitempty"`
	WSEndpoint    string      `json:"wsEndpoint,omitempty"`
	WorkspaceID   string      `json:"workspaceId"`
	Namespace     string      `json:"namespace"`
	SessionKey    string      `json:"sessionKey,omitempty"`
	DriverHash    string      `json:"driverHash,omitempty"`
	CreatedAt     int64       `json:"createdAt"`
}

// Endpoint prefers the CDP endpoint, which survives driver restarts.
func (d *Descriptor) Endpoint() string {
	if d.CDPEndpoint != "" {
		return d.CDPEndpoint
	}
	return d.WSEndpoint
}

// EndpointFor returns requested when the descriptor records it, else the
// preferred recorded endpoint.
func (d *Descriptor) EndpointFor(requested string) string {
	if requested != "" && (requested == d.CDPEndpoint || requested == d.WSEndpoint) {
		return requested
	}
	return d.Endpoint()
}

// Matches reports whether the descriptor can serve a request for browser
// and headless. A requested endpoint must equal one of the recorded ones;
// otherwise any recorded endpoint will do. A driver hash missing on either
// side is not a mismatch.
func (d *Descriptor) Matches(browser BrowserKind, headless bool, endpoint, driverHash string) bool {
	if d.Browser != browser || d.Headless != headless {
		return false
	}
	if endpoint != "" {
		if d.CDPEndpoint != endpoint && d.WSEndpoint != endpoint {
			return false
		}
	} else if d.CDPEndpoint == "" && d.WSEndpoint == "" {
		return false
	}
	if driverHash != "" && d.DriverHash != "" && driverHash != d.DriverHash {
		return false
	}
	return true
}

// BelongsTo reports whether the descriptor was written for scope. Both ids
// must be present.
func (d *Descriptor) BelongsTo(scope workspace.Scope) bool {
	return d.WorkspaceID != "" && d.Namespace != "" &&
		d.WorkspaceID == scope.WorkspaceID() && d.Namespace == scope.Namespace()
}

// IsAlive probes the recorded pid. A pid reused by an unrelated process
// after the owner exited reads as alive.
func (d *Descriptor) IsAlive() bool {
	return d.PID > 0 && processAlive(d.PID)
}

// LoadDescriptor reads the descriptor at path. A missing file yields nil. A
// file without a schema version predates versioning and is deleted. Any
// other unknown version is an error and the file is left in place.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ErrCodeDescriptorIO, "read session descriptor").
			WithContext("path", path)
	}

	var probe struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, perrors.Wrap(err, perrors.ErrCodeDescriptorIO, "parse session descriptor").
			WithContext("path", path).
			WithRemediation("run `playwire session clear` to discard it")
	}
	switch probe.SchemaVersion {
	case 0:
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, perrors.Wrap(err, perrors.ErrCodeDescriptorIO, "remove legacy session descriptor").
				WithContext("path", path)
		}
		return nil, nil
	case SchemaVersion:
	default:
		return nil, perrors.Newf(perrors.ErrCodeDescriptorSchema,
			"unsupported session descriptor schema_version %d (expected %d)", probe.SchemaVersion, SchemaVersion).
			WithContext("path", path).
			WithRemediation("upgrade playwire, or run `playwire session clear` to discard it")
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, perrors.Wrap(err, perrors.ErrCodeDescriptorIO, "parse session descriptor").
			WithContext("path", path)
	}
	return &d, nil
}

// writeDescriptor stamps the current schema and replaces path atomically.
func writeDescriptor(path string, d Descriptor) error {
	d.SchemaVersion = SchemaVersion
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return perrors.Wrap(err, perrors.ErrCodeDescriptorIO, "encode session descriptor")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return perrors.Wrap(err, perrors.ErrCodeDescriptorIO, "create descriptor directory").
			WithContext("path", path)
	}
	if err := writeFileAtomic(path, data, 0o600); err != nil {
		return perrors.Wrap(err, perrors.ErrCodeDescriptorIO, "write session descriptor").
			WithContext("path", path)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		// Windows cannot rename over an existing file.
		_ = os.Remove(tmpPath)
		return os.WriteFile(path, data, perm)
	}
	return nil
}
