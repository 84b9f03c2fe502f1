// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so manifest validation works in
// installed binaries regardless of the working directory.
package schemasassets

import _ "embed"

// PipelineManifestSchema is the embedded pipeline-manifest JSON schema.
//
//go:embed pipeline-manifest.schema.json
var PipelineManifestSchema []byte
