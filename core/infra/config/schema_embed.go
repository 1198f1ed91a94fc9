package config

import "embed"

const seedSchemaFile = "schema/seed.schema.json"

//go:embed schema/*.json
var configSchemaFS embed.FS
