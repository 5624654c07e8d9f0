// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Both the server API and the worker's login server use these helpers so
// JSON formatting and error envelopes stay identical across binaries.
package httputil
