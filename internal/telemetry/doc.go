// Copyright (c) Composer Authors.
// Licensed under the MIT License.

// Package telemetry initializes the OpenTelemetry SDK: OTLP gRPC exporters
// for traces and metrics behind a single Init call. When telemetry is
// disabled the global providers stay noop and no connection is made.
package telemetry
