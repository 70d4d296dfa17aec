// Package manifest loads the deployment manifest: the initial delay and
// the role grants that seed the host authority.
//
// Manifests are CUE, validated against an embedded schema:
//
//	delay: 172800
//	roles: {
//		PROPOSER: ["alice", "group:council"]
//		FAST_EXECUTE: ["guardian"]
//		CONFIGURATOR: ["admin"]
//	}
//	groups: council: ["bob", "carol"]
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/timelock/internal/authz"
	"github.com/roach88/timelock/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

// Manifest is a validated deployment manifest.
type Manifest struct {
	Delay  time.Duration
	Roles  map[ir.Capability][]string
	Groups map[string][]string
}

// LoadError represents an error that occurred during manifest loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeInvalid     = "E101" // Manifest violates the schema
)

// Load reads a manifest from a .cue file or from a directory holding one
// CUE package.
func Load(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing manifest: %v", err)}
	}

	ctx := cuecontext.New()

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading manifest: %v", err)}
		}
		return parse(ctx, ctx.CompileBytes(data, cue.Filename(path)))
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}
	return parse(ctx, ctx.BuildInstance(inst))
}

// Parse reads a manifest from CUE source. filename is used in error
// positions only.
func Parse(data []byte, filename string) (*Manifest, error) {
	ctx := cuecontext.New()
	return parse(ctx, ctx.CompileBytes(data, cue.Filename(filename)))
}

func parse(ctx *cue.Context, value cue.Value) (*Manifest, error) {
	if err := value.Err(); err != nil {
		return nil, convertCUEError(ErrCodeBuildFailed, err)
	}

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, convertCUEError(ErrCodeGeneric, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Manifest")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEError(ErrCodeInvalid, err)
	}

	var raw struct {
		Delay  int64               `json:"delay"`
		Roles  map[string][]string `json:"roles"`
		Groups map[string][]string `json:"groups"`
	}
	if err := unified.Decode(&raw); err != nil {
		return nil, convertCUEError(ErrCodeInvalid, err)
	}

	m := &Manifest{
		Delay:  time.Duration(raw.Delay) * time.Second,
		Roles:  make(map[ir.Capability][]string, len(raw.Roles)),
		Groups: raw.Groups,
	}
	for capability, subjects := range raw.Roles {
		m.Roles[ir.Capability(capability)] = subjects
	}
	if m.Groups == nil {
		m.Groups = map[string][]string{}
	}
	return m, nil
}

// Apply installs the manifest's grants and group memberships into r.
// Groups are applied before grants, both in sorted order.
func (m *Manifest) Apply(r *authz.Roles) error {
	for _, group := range sortedKeys(m.Groups) {
		for _, member := range m.Groups[group] {
			if err := r.AddMember(group, member); err != nil {
				return fmt.Errorf("apply manifest: %w", err)
			}
		}
	}
	for _, capability := range sortedKeys(m.Roles) {
		for _, subject := range m.Roles[capability] {
			if err := r.Grant(capability, subject); err != nil {
				return fmt.Errorf("apply manifest: %w", err)
			}
		}
	}
	return nil
}

// Authority builds a fresh authz.Roles from the manifest.
func (m *Manifest) Authority() (*authz.Roles, error) {
	r := authz.NewRoles()
	if err := m.Apply(r); err != nil {
		return nil, err
	}
	return r, nil
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// convertCUEError extracts position info from CUE errors.
func convertCUEError(code string, err error) *LoadError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}

	// Return first error with position info
	first := errs[0]
	loadErr := &LoadError{Code: code, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		loadErr.Pos = positions[0]
	}
	return loadErr
}
