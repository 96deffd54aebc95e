package cli

import (
	"github.com/permafrost-labs/glacier/internal/clock"
	"github.com/permafrost-labs/glacier/internal/config"
	"github.com/permafrost-labs/glacier/internal/convert"
	"github.com/permafrost-labs/glacier/internal/session"
	"github.com/permafrost-labs/glacier/internal/staking"
	"github.com/permafrost-labs/glacier/internal/store"
)

// App wires the engines over the shared database for one command
// invocation.
type App struct {
	Store    *store.Store
	Config   *config.Config
	Sessions *session.Engine
	Staking  *staking.Engine
	Convert  *convert.Engine
}

// openApp loads configuration, opens the database and constructs the
// engines on the system clock.
func openApp(opts *RootOptions) (*App, error) {
	var cfg *config.Config
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	guard := clock.NewGuard(clock.NewSystem())
	return &App{
		Store:    st,
		Config:   cfg,
		Sessions: session.New(guard, st, cfg.Session),
		Staking:  staking.New(guard, st, cfg.Vaults, cfg.Recycle),
		Convert:  convert.New(guard, st, convert.NewStaticFeed(cfg.Conversion), cfg.LoyaltyBonus),
	}, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.Store.Close()
}
