// Package appfs embeds the files the binaries need at runtime:
// SQL migrations, email templates, fallback nudge templates and sample data.
package appfs

import "embed"

//go:embed migrations/*.sql all:assets
var FS embed.FS

const (
	MigrationsDir         = "migrations"
	EmailTemplatesDir     = "assets/templates/email"
	FallbackNudgesPath    = "assets/prompts/fallback_nudges.json"
	SampleLearnersCSVPath = "assets/data/mock_learners.csv"
)
