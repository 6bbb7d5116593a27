package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sqlite/*.sql
var sqliteFS embed.FS

//go:embed postgres/*.sql
var postgresFS embed.FS

// SQLite holds the schema for the on-device cache database.
var SQLite = mustSub(sqliteFS, "sqlite")

// Postgres holds the schema for the remote attempt store.
var Postgres = mustSub(postgresFS, "postgres")

func mustSub(fsys embed.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
