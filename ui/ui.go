// Package ui serves the embedded single-page admin shell. The shell
// carries no application knowledge; it reads /schemas at runtime and
// renders navigation, list views and forms from the generated schemas.
package ui

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var static embed.FS

// Handler returns the file server for the embedded shell.
func Handler() http.Handler {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
