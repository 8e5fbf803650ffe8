// Package proxy is the producer side of the throughput monitor: a reverse
// proxy in front of an LLM API that stamps each request with monotonic
// start/end instants and records its output tokens once the response body
// has been fully delivered.
//
// Output tokens come from the usage block the upstream reports, either in the
// final JSON body or in the data: lines of a text/event-stream response.
// usage.go lists the recognised fields. Responses without usage are recorded
// with zero tokens, which the monitor ignores.
package proxy
