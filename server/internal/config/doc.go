// Package config loads and watches the server configuration from the
// `server:` section of config.yaml.
//
// Config fields:
//   - HTTPPort        REST API, /metrics and WebSocket feed (default 8080)
//   - LogLevel        debug|info|warn|error (default info, reloadable)
//   - LogFormat       json|text (default json)
//   - Auth            "apikey" or "none"; KeyEnv names the env var with the key
//   - TPS.WindowSecs  averaging window in seconds (default 5, clamped to >= 1)
//   - Proxy           upstream URL and listen port of the metered proxy
//   - Storage.Path    SQLite file for the stream-check log (empty disables it)
//   - Alerts          evaluation interval, rules and webhooks (rules reloadable)
//
// Load(path) applies defaults before unmarshalling, then validates.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It re-adds the watch after each
// event so the rename then create pattern used by atomic-save editors keeps
// working.
package config
