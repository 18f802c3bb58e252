// Copyright (c) Composer Authors.
// Licensed under the MIT License.

/*
Package server manages the HTTP server lifecycle: non-blocking start,
graceful shutdown within a configurable drain timeout, SIGINT/SIGTERM
handling, and asynchronous serve-error propagation via Errors().

Manager wraps net/http.Server; Config carries the listener address,
timeouts, and header size limits. StartTLS serves HTTPS from a
certificate and key file pair.
*/
package server
