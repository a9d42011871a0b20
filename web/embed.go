package web

import "embed"

// FS contains the browser front end (HTML, CSS, JS).
//
//go:embed *.html *.css *.js
var FS embed.FS
