package static

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"medea/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callRoom = `
kind: Room
id: call
pipeline:
  caller:
    kind: Member
    credentials:
      plain: caller-pass
    pipeline:
      publish:
        kind: WebRtcPublishEndpoint
        p2p: Always
  responder:
    kind: Member
    credentials:
      plain: responder-pass
    pipeline:
      play:
        kind: WebRtcPlayEndpoint
        src: "local://call/caller/publish"
`

const echoRoom = `
kind: Room
id: echo
pipeline:
  solo:
    kind: Member
    credentials:
      plain: solo-pass
    pipeline: {}
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadSpecs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b-echo.yaml", echoRoom)
	writeFile(t, dir, "a-call.yml", callRoom)
	writeFile(t, dir, "README.md", "not a spec")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yml"), 0o700))

	specs, err := LoadSpecs(dir)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, domain.RoomID("call"), specs[0].ID)
	assert.Equal(t, domain.RoomID("echo"), specs[1].ID)

	responder := specs[0].Members["responder"]
	require.NotNil(t, responder)
	assert.True(t, responder.Credential.Verify("responder-pass"))
	assert.Equal(t, domain.EndpointURI("call", "caller", "publish"), responder.Play["play"].Src)
}

func TestLoadSpecs_EmptyDir(t *testing.T) {
	specs, err := LoadSpecs(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestLoadSpecs_Errors(t *testing.T) {
	t.Run("missing dir", func(t *testing.T) {
		_, err := LoadSpecs(filepath.Join(t.TempDir(), "absent"))
		assert.Error(t, err)
	})

	t.Run("duplicate room", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "one.yml", echoRoom)
		writeFile(t, dir, "two.yml", echoRoom)
		_, err := LoadSpecs(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "one.yml")
		assert.Contains(t, err.Error(), "two.yml")
	})

	t.Run("missing id", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "room.yml", "kind: Room\npipeline: {}\n")
		_, err := LoadSpecs(dir)
		assert.True(t, errors.Is(err, domain.ErrBadRoomSpec))
	})

	t.Run("unknown field", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "room.yml", "kind: Room\nid: r\ncolour: red\npipeline: {}\n")
		_, err := LoadSpecs(dir)
		assert.Error(t, err)
	})

	t.Run("dangling play source", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "room.yml", `
kind: Room
id: r
pipeline:
  m:
    kind: Member
    credentials:
      plain: x
    pipeline:
      play:
        kind: WebRtcPlayEndpoint
        src: "local://r/ghost/publish"
`)
		_, err := LoadSpecs(dir)
		assert.True(t, errors.Is(err, domain.ErrBadRoomSpec))
	})
}
