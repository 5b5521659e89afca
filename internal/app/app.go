package app

import (
	"database/sql"

	"github.com/rotisserie/eris"

	"github.com/DARIAH-ERIC/dariah-unr/internal/config"
	"github.com/DARIAH-ERIC/dariah-unr/internal/db"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine"
	"github.com/DARIAH-ERIC/dariah-unr/internal/migrate"
)

// Options select the workspace and an optional explicit config file.
type Options struct {
	Workspace  string
	ConfigFile string
	// SkipLogger leaves the global logger untouched.
	SkipLogger bool
}

// App is an opened workspace with a migrated database.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Engine engine.Engine
	// SchemaVersion is the database version after migrating.
	SchemaVersion int
}

// Open loads the configuration, initializes logging, opens the database and
// applies pending migrations.
func Open(opts Options) (*App, error) {
	cfg, err := config.Load(opts.Workspace, opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if !opts.SkipLogger {
		if err := config.InitLogger(cfg.Log); err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(db.Config{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		Workspace: cfg.Database.Workspace,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open database")
	}
	version, err := migrate.Migrate(conn, cfg.Database.Driver)
	if err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "migrate")
	}
	return &App{
		Config:        cfg,
		DB:            conn,
		Engine:        engine.New(conn, cfg),
		SchemaVersion: version,
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
