// Package pages renders the console's HTML pages. The markup lives in the
// .templ files; run `templ generate` after editing them.
package pages

import (
	"embed"
	"io/fs"
)

//go:embed static
var static embed.FS

// Static holds the page scripts and stylesheet, served under /static/.
var Static, _ = fs.Sub(static, "static")
