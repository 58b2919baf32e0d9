package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateDefaults(t *testing.T) {
	s := NewState("sess-1", "trace-1", "user-1", "hola")
	assert.Equal(t, StatusInitialized, s.Status)
	assert.Equal(t, IntentUnknown, s.DetectedIntent)
	assert.Equal(t, WorkflowModeChat, s.WorkflowMode)
	assert.NotNil(t, s.ResponseData)
	assert.NotNil(t, s.SharedArtifacts)
	assert.Empty(t, s.CompletedNodes)
}

func TestCloneIsDeep(t *testing.T) {
	s := NewState("sess-1", "trace-1", "user-1", "hola")
	s.ResponseData["nested"] = map[string]any{"k": "v"}
	s.SharedArtifacts["capi_datab"] = map[string]any{"rows": 3}
	s.CompletedNodes = []string{"start"}

	clone := s.Clone()
	clone.ResponseData["nested"].(map[string]any)["k"] = "changed"
	clone.SharedArtifacts["capi_datab"]["rows"] = 99
	clone.CompletedNodes = append(clone.CompletedNodes, "intent")

	assert.Equal(t, "v", s.ResponseData["nested"].(map[string]any)["k"])
	assert.Equal(t, 3, s.SharedArtifacts["capi_datab"]["rows"])
	assert.Equal(t, []string{"start"}, s.CompletedNodes)
}

func TestCloneNil(t *testing.T) {
	var s *State
	assert.Nil(t, s.Clone())
}

func TestHasCompleted(t *testing.T) {
	s := NewState("sess-1", "trace-1", "user-1", "hola")
	s.CompletedNodes = []string{"start", "intent"}
	assert.True(t, s.HasCompleted("intent"))
	assert.False(t, s.HasCompleted("router"))
}

func TestMetaAccessors(t *testing.T) {
	s := NewState("sess-1", "trace-1", "user-1", "hola")
	s.ResponseMetadata["recommended_agent"] = "capi_gus"
	s.ResponseMetadata["requires_human_approval"] = true
	s.ResponseMetadata["parallel_targets"] = []string{"branch", "anomaly"}

	assert.Equal(t, "capi_gus", s.MetaString("recommended_agent"))
	assert.True(t, s.MetaBool("requires_human_approval"))
	assert.Equal(t, []string{"branch", "anomaly"}, s.MetaStrings("parallel_targets"))
	assert.Empty(t, s.MetaString("missing"))
	assert.False(t, s.MetaBool("missing"))
	assert.Nil(t, s.MetaStrings("missing"))
}

func TestMetaStringsAfterJSONRoundTrip(t *testing.T) {
	s := NewState("sess-1", "trace-1", "user-1", "hola")
	s.ResponseMetadata["parallel_targets"] = []string{"branch", "anomaly"}

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	var restored State
	require.NoError(t, json.Unmarshal(raw, &restored))

	// JSON decoding turns the slice into []any; the accessor must cope.
	assert.Equal(t, []string{"branch", "anomaly"}, restored.MetaStrings("parallel_targets"))
}
