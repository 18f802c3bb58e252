package testutil

import (
	"github.com/albertlabs/composer/composition"
	"github.com/albertlabs/composer/types"
)

// WeatherTool is the catalog entry used by the weather fixtures.
var WeatherTool = types.ToolRef{ServerID: "demo", ToolID: "fetch_weather"}

// SummaryTool is the catalog entry used by the second step of the weather
// report fixture.
var SummaryTool = types.ToolRef{ServerID: "demo", ToolID: "summarize"}

// SingleStepComposition returns an unsaved composition with one required step
// mapping "city" in and "report" out.
func SingleStepComposition(intentType string) *composition.Composition {
	input := types.NewObjectSchema()
	input.AddProperty("city", types.NewStringSchema())
	input.AddRequired("city")

	output := types.NewObjectSchema()
	output.AddProperty("report", types.NewStringSchema())

	return &composition.Composition{
		Name:       "city weather",
		IntentType: intentType,
		Steps: []composition.Step{
			{
				ID:            "fetch",
				Tool:          WeatherTool,
				InputMapping:  map[string]string{"city": "city"},
				OutputMapping: map[string]string{"report": "report"},
				Required:      true,
			},
		},
		InputSchema:  input,
		OutputSchema: output,
	}
}

// TwoStepComposition returns an unsaved composition where the second step
// consumes the first step's output.
func TwoStepComposition(intentType string) *composition.Composition {
	comp := SingleStepComposition(intentType)
	comp.Name = "city weather report"
	comp.Steps[0].OutputMapping = map[string]string{"report": "raw_report"}
	comp.Steps = append(comp.Steps, composition.Step{
		ID:            "summarize",
		Tool:          SummaryTool,
		InputMapping:  map[string]string{"text": "raw_report"},
		OutputMapping: map[string]string{"summary": "report"},
		Required:      true,
	})
	return comp
}
