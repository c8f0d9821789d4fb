// Пакет spec — встроенное OpenAPI-описание HTTP API WARC Manager.
package spec

import _ "embed"

// OpenAPI — содержимое openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPI []byte
