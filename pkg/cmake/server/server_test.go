package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

// frames renders a sequence of JSON messages in the server's wire format.
func frames(messages ...string) string {
	var builder strings.Builder

	for _, message := range messages {
		builder.WriteString(frameOpen + "\n")
		builder.WriteString(message + "\n")
		builder.WriteString(frameClose + "\n")
	}

	return builder.String()
}

func testClient(incoming string) (*Client, *bytes.Buffer) {
	sent := &bytes.Buffer{}

	client := &Client{
		stdin:     nopWriteCloser{sent},
		stdout:    bufio.NewReader(strings.NewReader(incoming)),
		newCookie: func() string { return "test-cookie" },
	}

	return client, sent
}

func TestFrameRoundTrip(t *testing.T) {
	var buffer bytes.Buffer
	payload := []byte(`{"type":"handshake","cookie":"abc"}`)

	require.NoError(t, writeFrame(&buffer, payload))

	read, err := readFrame(bufio.NewReader(&buffer))
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(payload), read)
}

func TestReadFrame_SkipsTrafficOutsideFrames(t *testing.T) {
	incoming := "random startup noise\n" + frames(`{"type":"hello"}`)

	read, err := readFrame(bufio.NewReader(strings.NewReader(incoming)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"hello"}`, string(read))
}

func TestReadFrame_CRLFLines(t *testing.T) {
	incoming := strings.ReplaceAll(frames(`{"type":"hello"}`), "\n", "\r\n")

	read, err := readFrame(bufio.NewReader(strings.NewReader(incoming)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"hello"}`, string(read))
}

func TestRoundTrip_ReplyAfterNotifications(t *testing.T) {
	incoming := frames(
		`{"type":"progress","cookie":"test-cookie","progressMessage":"Configuring","progressMinimum":0,"progressCurrent":5,"progressMaximum":10}`,
		`{"type":"message","cookie":"test-cookie","message":"Looking for pthread"}`,
		`{"type":"reply","cookie":"test-cookie","inReplyTo":"configure"}`,
	)

	client, sent := testClient(incoming)

	var notifications []Notification
	client.listener = func(n Notification) {
		notifications = append(notifications, n)
	}

	err := client.Configure(context.Background(), []string{"-DCMAKE_BUILD_TYPE=Debug"})
	require.NoError(t, err)

	require.Len(t, notifications, 2)
	assert.Equal(t, "progress", notifications[0].Kind)
	assert.Equal(t, "Configuring", notifications[0].Message)
	assert.InDelta(t, 0.5, notifications[0].Progress, 0.001)
	assert.Equal(t, "message", notifications[1].Kind)

	// the request on the wire carries type, cookie and the cache arguments
	request, err := readFrame(bufio.NewReader(sent))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(request, &decoded))
	assert.Equal(t, "configure", decoded["type"])
	assert.Equal(t, "test-cookie", decoded["cookie"])
	assert.Equal(t, []any{"-DCMAKE_BUILD_TYPE=Debug"}, decoded["cacheArguments"])
}

func TestRoundTrip_ErrorReplyIsRecoverable(t *testing.T) {
	incoming := frames(
		`{"type":"error","cookie":"test-cookie","errorMessage":"Generator mismatch"}`,
	)

	client, _ := testClient(incoming)

	err := client.Compute(context.Background())
	require.Error(t, err)

	var requestErr *RequestError
	require.ErrorAs(t, err, &requestErr)
	assert.Equal(t, "compute", requestErr.Operation)
	assert.Equal(t, "Generator mismatch", requestErr.Message)
	assert.NotErrorIs(t, err, ErrConnectionLost)
}

func TestRoundTrip_StaleCookieIgnored(t *testing.T) {
	incoming := frames(
		`{"type":"reply","cookie":"abandoned-request"}`,
		`{"type":"error","cookie":"abandoned-request","errorMessage":"old failure"}`,
		`{"type":"reply","cookie":"test-cookie","inReplyTo":"compute"}`,
	)

	client, _ := testClient(incoming)
	assert.NoError(t, client.Compute(context.Background()))
}

func TestRoundTrip_ConnectionLost(t *testing.T) {
	// stream ends before any reply arrives
	client, _ := testClient(frames(`{"type":"progress","cookie":"test-cookie"}`))

	err := client.Compute(context.Background())
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestRoundTrip_AfterCloseFails(t *testing.T) {
	client, _ := testClient("")
	client.stopped = true

	err := client.Compute(context.Background())
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestRoundTrip_CancelledContext(t *testing.T) {
	client, _ := testClient("")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Compute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCMakeInputs(t *testing.T) {
	reply := `{
		"type": "reply",
		"cookie": "test-cookie",
		"inReplyTo": "cmakeInputs",
		"cmakeRootDirectory": "/usr/share/cmake",
		"sourceDirectory": "/home/dev/project",
		"buildFiles": [
			{"isCMake": false, "isTemporary": false, "sources": ["CMakeLists.txt", "cmake/toolchain.cmake"]},
			{"isCMake": true, "isTemporary": false, "sources": ["Modules/FindThreads.cmake"]}
		]
	}`

	client, _ := testClient(frames(strings.ReplaceAll(reply, "\n", " ")))

	inputs, err := client.CMakeInputs(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/home/dev/project", inputs.SourceDirectory)
	require.Len(t, inputs.BuildFiles, 2)
	assert.False(t, inputs.BuildFiles[0].IsCMake)
	assert.Equal(t, []string{"CMakeLists.txt", "cmake/toolchain.cmake"}, inputs.BuildFiles[0].Sources)
	assert.True(t, inputs.BuildFiles[1].IsCMake)
}

func TestCodeModel(t *testing.T) {
	reply := `{"type":"reply","cookie":"test-cookie","inReplyTo":"codemodel","configurations":[{"name":"Debug"}]}`

	client, _ := testClient(frames(reply))

	raw, err := client.CodeModel(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"configurations"`)
}

func TestProgressRatio(t *testing.T) {
	assert.Equal(t, 0.0, progressRatio(envelope{ProgressMinimum: 3, ProgressMaximum: 3}))
	assert.Equal(t, 1.0, progressRatio(envelope{ProgressCurrent: 10, ProgressMaximum: 10}))

	ratio := progressRatio(envelope{ProgressMinimum: 10, ProgressCurrent: 15, ProgressMaximum: 20})
	assert.InDelta(t, 0.5, ratio, 0.001)
}

func TestHandshakePayload(t *testing.T) {
	incoming := frames(
		`{"type":"hello","supportedProtocolVersions":[{"major":1,"minor":2}]}`,
		`{"type":"reply","cookie":"test-cookie","inReplyTo":"handshake"}`,
	)

	client, sent := testClient(incoming)

	err := client.handshake(context.Background(), Options{
		SourceDir: "/home/dev/project",
		BuildDir:  "/home/dev/project/build",
		Generator: "Ninja",
	})
	require.NoError(t, err)

	request, err := readFrame(bufio.NewReader(sent))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(request, &decoded))
	assert.Equal(t, "handshake", decoded["type"])
	assert.Equal(t, "/home/dev/project", decoded["sourceDirectory"])
	assert.Equal(t, "/home/dev/project/build", decoded["buildDirectory"])
	assert.Equal(t, "Ninja", decoded["generator"])
	assert.Equal(t, map[string]any{"major": float64(1)}, decoded["protocolVersion"])
}

func TestHandshake_RejectsNonHelloFirstMessage(t *testing.T) {
	client, _ := testClient(frames(`{"type":"reply","cookie":"whatever"}`))

	err := client.handshake(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected first server message")
}
