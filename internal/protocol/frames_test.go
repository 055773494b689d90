// ABOUTME: Tests for protocol frame construction and error helpers.
// ABOUTME: Validates response building and error code stability.

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOKResponse(t *testing.T) {
	resp := OKResponse("req-1", map[string]string{"status": "accepted"})

	assert.Equal(t, "req-1", resp.ID)
	assert.True(t, resp.OK)
	assert.Nil(t, resp.Error)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(resp.Payload, &payload))
	assert.Equal(t, "accepted", payload["status"])
}

func TestOKResponse_UnmarshalablePayload(t *testing.T) {
	// Channels cannot be marshaled; the caller must still get a frame back.
	resp := OKResponse("req-2", make(chan int))

	assert.Equal(t, "req-2", resp.ID)
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnavailable, resp.Error.Code)
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse("req-3", InvalidRequest("unknown method %q", "bogus"))

	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "bogus")
}

func TestError_ErrorString(t *testing.T) {
	err := Unavailable("node %s not connected", "node-1")
	assert.Equal(t, "UNAVAILABLE: node node-1 not connected", err.Error())
}

func TestRequest_RoundTrip(t *testing.T) {
	raw := []byte(`{"id":"abc","method":"agent.wait","params":{"runId":"r1","timeoutMs":500}}`)

	var req Request
	require.NoError(t, json.Unmarshal(raw, &req))
	assert.Equal(t, "abc", req.ID)
	assert.Equal(t, MethodAgentWait, req.Method)

	var params WaitParams
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, "r1", params.RunID)
	require.NotNil(t, params.TimeoutMs)
	assert.Equal(t, int64(500), *params.TimeoutMs)
}

func TestWaitParams_ZeroTimeoutDistinctFromAbsent(t *testing.T) {
	var absent WaitParams
	require.NoError(t, json.Unmarshal([]byte(`{"runId":"r1"}`), &absent))
	assert.Nil(t, absent.TimeoutMs)

	var zero WaitParams
	require.NoError(t, json.Unmarshal([]byte(`{"runId":"r1","timeoutMs":0}`), &zero))
	require.NotNil(t, zero.TimeoutMs)
	assert.Equal(t, int64(0), *zero.TimeoutMs)
}
