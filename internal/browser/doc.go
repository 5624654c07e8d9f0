// Package browser drives a Chromium-family browser over the DevTools
// protocol: process launch, a WebSocket protocol client, page primitives,
// login and session capture, and the per-action drivers the worker runs.
package browser
