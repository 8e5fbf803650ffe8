// Package auth provides the API key middleware for the REST API.
//
// APIKey(mode, header, key) wraps an http.Handler. When mode is "apikey" and
// a key is configured, every request must carry the key in header; anything
// else is rejected with 401 and a JSON error body. Other modes pass through.
package auth
