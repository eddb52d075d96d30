// Package schema bundles the JSON Schema documents for every supported GBFS
// version, one file per feed under v{version}/{feed}.json.
package schema

import (
	"embed"
	"path"
)

//go:embed v*/*.json
var FS embed.FS

// Path returns the location of a feed schema inside FS.
func Path(version, feed string) string {
	return path.Join("v"+version, feed+".json")
}
