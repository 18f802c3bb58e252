package types

import (
	"context"
	"fmt"
)

// ToolRef identifies a remote capability as a (server, tool) pair. Servers
// register tools with the external catalog; the engine never assumes anything
// about a tool beyond its declared schemas.
type ToolRef struct {
	ServerID string `json:"server_id"`
	ToolID   string `json:"tool_id"`
}

// String returns the canonical "server/tool" form used in logs and indexes.
func (r ToolRef) String() string {
	return r.ServerID + "/" + r.ToolID
}

// IsZero reports whether the reference is empty.
func (r ToolRef) IsZero() bool {
	return r.ServerID == "" && r.ToolID == ""
}

// Validate checks that both parts of the reference are set.
func (r ToolRef) Validate() error {
	if r.ServerID == "" || r.ToolID == "" {
		return Errorf(ErrValidation, "incomplete tool reference %q", r.String())
	}
	return nil
}

// ToolDescriptor is a catalog entry: a tool reference plus its declared
// contract. Descriptors come back from catalog searches and drive data-mapping
// validation.
type ToolDescriptor struct {
	Ref          ToolRef     `json:"ref"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	InputSchema  *JSONSchema `json:"input_schema,omitempty"`
	OutputSchema *JSONSchema `json:"output_schema,omitempty"`
}

// ToolExecutor is the boundary to the external tool pool. Implementations
// wrap the remote catalog protocol; everything above this interface treats
// tools as opaque schema-described calls.
type ToolExecutor interface {
	// SearchTools returns catalog entries relevant to a natural-language
	// query, best match first, at most limit entries.
	SearchTools(ctx context.Context, query string, limit int) ([]ToolDescriptor, error)

	// ExecuteTool invokes a tool with the given parameters and returns its
	// decoded result. Failures surface as TOOL_EXECUTION errors.
	ExecuteTool(ctx context.Context, ref ToolRef, params map[string]any) (map[string]any, error)

	// PublishTool exposes a composition in the catalog as a callable tool so
	// other compositions and callers can invoke it like any primitive.
	PublishTool(ctx context.Context, desc ToolDescriptor) error

	// UnpublishTool withdraws a previously published entry.
	UnpublishTool(ctx context.Context, ref ToolRef) error
}

// CompositionServerID is the catalog server namespace under which validated
// compositions are published.
const CompositionServerID = "composer"

// CompositionToolRef returns the catalog reference for a composition ID.
func CompositionToolRef(compositionID string) ToolRef {
	return ToolRef{ServerID: CompositionServerID, ToolID: compositionID}
}

var _ fmt.Stringer = ToolRef{}
