// Package checklog persists stream health-check outcomes for upstream
// providers and the check configuration, in a SQLite database.
//
// It is a standalone collaborator of the server: the throughput monitor
// never reads or writes it.
//
//   - SaveLog / Latest / History: check results keyed by provider ID and
//     app type, newest first by tested_at then insertion order
//   - Config / SaveConfig: the check configuration, stored as JSON under
//     the "stream_check_config" settings key; DefaultConfig() when unset
package checklog
