package build

import _ "embed"

//go:embed assets/default.yaml
var defaultPipeline []byte
