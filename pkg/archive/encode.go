package archive

import (
	"encoding/json"

	"github.com/droverhq/drover/pkg/types"
)

// encodeRequest strips the opaque payload before archiving. The payload is
// working data for the backend, not queryable metadata, and it may be large.
func encodeRequest(r *types.TaskRequest) ([]byte, error) {
	return json.Marshal(struct {
		Type         string   `json:"type"`
		Priority     int      `json:"priority"`
		Capabilities []string `json:"capabilities,omitempty"`
		Async        bool     `json:"async"`
	}{
		Type:         r.Type,
		Priority:     r.Priority,
		Capabilities: r.Capabilities,
		Async:        r.Async,
	})
}
