package schema

import _ "embed"

// ConfigV1Schema contains the JSON schema for tether.yaml.
//
//go:embed tether.v1.json
var ConfigV1Schema []byte
