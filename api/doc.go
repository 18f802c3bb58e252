// Copyright (c) Composer Authors.
// Licensed under the MIT License.

/*
Package api exposes the Composer HTTP surface.

# Endpoints

  - POST   /v1/requests                      submit a natural-language request
  - GET    /v1/compositions                  list compositions
  - POST   /v1/compositions                  register a composition
  - GET    /v1/compositions/{id}             fetch one composition
  - DELETE /v1/compositions/{id}             deprecate a composition
  - POST   /v1/compositions/{id}/rollback    undo the last optimization
  - GET    /v1/learning/report/{id}          quality report for a composition
  - POST   /v1/learning/optimize/{id}        run one optimization pass
  - GET    /healthz                          liveness and dependency health
  - GET    /metrics                          Prometheus metrics

# Authentication

When auth is enabled, every /v1 endpoint requires a Bearer token signed with
HS256. /healthz and /metrics stay open for probes and scrapers.

All responses share one envelope: {"success": bool, "data": ..., "error":
{"code", "message", "retryable"}}.
*/
package api
