// Package pkl ships the PKL schema that environment manifests amend.
package pkl

import _ "embed"

// SchemaFile is the name manifests amend the schema under.
const SchemaFile = "Testbed.pkl"

//go:embed Testbed.pkl
var Schema []byte
