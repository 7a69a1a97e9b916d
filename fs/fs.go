// Package appfs embeds the files shipped with the binaries: migrations, email templates & static data.
package appfs

import "embed"

//go:embed migrations all:assets
var FS embed.FS
