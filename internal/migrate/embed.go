package migrate

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql seeds/*.sql
var embedded embed.FS

// Embedded returns the migrations and seeds compiled into the binary.
func Embedded() (migrations, seeds fs.FS) {
	migrations, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	seeds, err = fs.Sub(embedded, "seeds")
	if err != nil {
		panic(err)
	}
	return migrations, seeds
}
