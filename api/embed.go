// Package api embeds the OpenAPI specification served at /openapi.yaml.
package api

import _ "embed"

// OpenAPISpec is the raw OpenAPI 3.1 YAML specification for the keiro HTTP API.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
