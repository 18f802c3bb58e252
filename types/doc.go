// Copyright (c) Composer Authors.
// Licensed under the MIT License.

/*
Package types provides the shared type contracts of the Composer engine.

types is the lowest-level public package and depends on no other internal
package. It defines the cross-package contracts: the structured error
taxonomy, the JSON schema model used for composition input/output contracts,
tool descriptors, the ToolExecutor boundary, and context propagation helpers.

# Core interfaces and types

  - Error / ErrorCode — structured error taxonomy (validation, tool
    execution, timeout, mapping, not-found, storage)
  - JSONSchema        — JSON Schema definition, builders and value validation
  - ToolRef           — (server, tool) pair identifying a remote capability
  - ToolDescriptor    — catalog entry with declared input/output schemas
  - ToolExecutor      — the external boundary: search the catalog, execute a
    tool, expose a composition as a callable tool
*/
package types
