package runnerports

import (
	"context"
	"encoding/json"
)

// GenerateResult is the external API's answer for one item. Ref points
// at the stored artifact when the provider uploads output out of band;
// Output carries inline payloads.
type GenerateResult struct {
	Ref    string
	Output json.RawMessage
}

// Generator is the third-party generation API collaborator. Any failed
// or non-2xx response surfaces as an error and becomes that item's
// failed outcome; the runner never distinguishes failure modes here.
type Generator interface {
	Generate(ctx context.Context, input json.RawMessage, modelID string) (GenerateResult, error)
}
