// Copyright (c) Composer Authors.
// Licensed under the MIT License.

// Package testutil provides shared test helpers: bounded test contexts, an
// in-memory database, a scriptable tool executor, and composition fixtures.
package testutil
