// Copyright (c) Composer Authors.
// Licensed under the MIT License.

// Package toolpool implements the tool catalog boundary over the pool's HTTP
// API: catalog search, tool invocation, and publication of validated
// compositions as callable tools. Transport failures and retryable statuses
// are retried with backoff; everything surfaces through the shared error
// taxonomy.
package toolpool
