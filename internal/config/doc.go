// Package config loads the event client configuration.
//
// # Configuration Loading
//
// Load merges, in increasing priority:
//
//  1. Built-in defaults (DefaultURL, SSE transport, INFO logging)
//  2. The config file named by the argument or OPENCODE_EVENTS_CONFIG, otherwise the
//     first of ~/.config/opencode/events.{jsonc,json,yaml,yml} that exists
//  3. OPENCODE_EVENTS_* environment variables; a .env file in the working directory
//     is read first and never overrides variables already set
//
// # Supported Formats
//
//   - .json and .jsonc, with comments stripped by tidwall/jsonc
//   - .yaml and .yml
//
// JSON files support {env:VAR_NAME} interpolation:
//
//	{
//	  // local server, token from the environment
//	  "url": "http://127.0.0.1:4096",
//	  "headers": {"Authorization": "Bearer {env:OPENCODE_TOKEN}"},
//	  "listingTTL": "30s"
//	}
//
// # Endpoints
//
// URL is the server base. EndpointURL derives /event for the SSE transport and
// /event/ws for the WebSocket transport, adding the directory query parameter when
// Directory is set.
//
// # Live Reload
//
// Watch uses fsnotify to reload the file on change; the CLI uses it to apply a new
// log level without reconnecting.
package config
