// Package web bundles the single-page client served at "/".
package web

import _ "embed"

// IndexHTML is the client page, served byte-for-byte.
//
//go:embed index.html
var IndexHTML []byte
