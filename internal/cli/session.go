package cli

import (
	"github.com/roach88/timelock/internal/dispatch"
	"github.com/roach88/timelock/internal/engine"
	"github.com/roach88/timelock/internal/manifest"
	"github.com/roach88/timelock/internal/store"
)

// session is an engine over the configured database, with the manifest's
// grants as authority and the built-in action targets as executor.
type session struct {
	store    *store.Store
	engine   *engine.Engine
	manifest *manifest.Manifest // nil without --manifest
}

// openSession builds a session. Without a manifest every capability check
// is denied.
func openSession(opts *RootOptions, extra ...engine.EngineOption) (*session, error) {
	var (
		m         *manifest.Manifest
		authority engine.Authority
	)
	if opts.Manifest != "" {
		loaded, err := manifest.Load(opts.Manifest)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load manifest", err)
		}
		roles, err := loaded.Authority()
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load manifest", err)
		}
		m, authority = loaded, roles
	}

	opts.Logger.Debug("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	targets := dispatch.NewRegistry(opts.Logger)
	dispatch.RegisterBuiltins(targets)

	engineOpts := []engine.EngineOption{engine.WithLogger(opts.Logger)}
	engineOpts = append(engineOpts, opts.EngineOptions...)
	engineOpts = append(engineOpts, extra...)

	return &session{
		store:    st,
		engine:   engine.New(st, authority, targets, engineOpts...),
		manifest: m,
	}, nil
}

func (s *session) close(opts *RootOptions) {
	if err := s.store.Close(); err != nil {
		opts.Logger.Error("error closing database", "error", err)
	}
}
