// Package settings loads the given settings file.
//
// The file is located by the GIVEN_SETTINGS environment variable or by
// searching for given.settings.{yaml,yml,json} in the working directory and
// up to three parent directories. ${ENV:NAME} placeholders are expanded
// before parsing, and JSON files may contain comments and trailing commas.
//
// A Cache object holds parsed files keyed by absolute path; pass one to
// scenarios explicitly, or rely on DefaultCache. Clear and Invalidate drop
// entries, and Watch drops them automatically when files change on disk.
//
//	# given.settings.yaml
//	http:
//	  baseUrl: http://localhost:8080
//	  auth:
//	    type: bearer
//	    bearer:
//	      token: ${ENV:API_TOKEN}
//	kafka:
//	  bootstrapServers: [localhost:9092]
//	  consumeTimeout: 30s
package settings
