package archive

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/types"
)

func TestEncodeRequest_StripsPayload(t *testing.T) {
	req := &types.TaskRequest{
		Type:         "video-processing",
		Priority:     3,
		Payload:      json.RawMessage(`{"input":"s3://bucket/huge-object"}`),
		Capabilities: []string{"video"},
		Async:        true,
	}

	data, err := encodeRequest(req)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "video-processing", decoded["type"])
	assert.Equal(t, float64(3), decoded["priority"])
	assert.NotContains(t, decoded, "payload")
}

func TestNilArchiveNoOps(t *testing.T) {
	var a *Archive

	// Must not panic.
	a.RecordTask(t.Context(), &types.Task{ID: "t1", Status: types.TaskCompleted})
	a.Close()
}
