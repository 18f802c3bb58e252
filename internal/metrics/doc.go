// Copyright (c) Composer Authors.
// Licensed under the MIT License.

/*
Package metrics provides Prometheus-based metrics collection for the
orchestration pipeline.

# Overview

The Collector registers every metric the service emits through a single
promauto factory, grouped by concern: the HTTP surface, orchestrated
requests, composition executions, lifecycle events (promotions,
optimizations, rollbacks), caching and the database connection pool. All
metrics share one namespace so deployments can run several instances against
one Prometheus without label collisions.

# Metrics

  - http_requests_total / http_request_duration_seconds, by method, path and
    status class (2xx/3xx/4xx/5xx)
  - requests_total, by intent, mode (composition or ad_hoc) and status
  - intent_resolutions_total, by intent and resolution source
  - executions_total / execution_duration_seconds, by composition
  - step_duration_seconds, by tool and status
  - promotions_total, optimizations_total, rollbacks_total
  - cache_hits_total / cache_misses_total, by cache type
  - db_connections_open / db_connections_idle gauges
*/
package metrics
