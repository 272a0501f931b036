package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalURI_String(t *testing.T) {
	assert.Equal(t, "local://r", RoomURI("r").String())
	assert.Equal(t, "local://r/m", MemberURI("r", "m").String())
	assert.Equal(t, "local://r/m/e", EndpointURI("r", "m", "e").String())
	assert.Equal(t, "r/m/e", EndpointURI("r", "m", "e").Fid())
}

func TestParseLocalURI(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    LocalURI
		kind    ElementKind
		wantErr bool
	}{
		{name: "room", input: "local://r", want: RoomURI("r"), kind: KindRoom},
		{name: "member", input: "local://r/m", want: MemberURI("r", "m"), kind: KindMember},
		{name: "endpoint", input: "local://r/m/e", want: EndpointURI("r", "m", "e"), kind: KindEndpoint},
		{name: "missing scheme", input: "r/m/e", wantErr: true},
		{name: "empty", input: "local://", wantErr: true},
		{name: "too deep", input: "local://r/m/e/x", wantErr: true},
		{name: "empty segment", input: "local://r//e", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocalURI(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidFid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.kind, got.Kind())
		})
	}
}

func TestParseFid(t *testing.T) {
	uri, err := ParseFid("r/m")
	require.NoError(t, err)
	assert.Equal(t, MemberURI("r", "m"), uri)

	uri, err = ParseFid("local://r/m/e")
	require.NoError(t, err)
	assert.Equal(t, EndpointURI("r", "m", "e"), uri)

	_, err = ParseFid("")
	assert.ErrorIs(t, err, ErrInvalidFid)
}

func TestElementError(t *testing.T) {
	err := NewElementError(ErrRoomNotFound, RoomURI("r"))

	assert.ErrorIs(t, err, ErrRoomNotFound)
	uri, ok := ElementURI(err)
	require.True(t, ok)
	assert.Equal(t, RoomURI("r"), uri)
	assert.Equal(t, "room not found: local://r", err.Error())

	_, ok = ElementURI(ErrRoomNotFound)
	assert.False(t, ok)
}

func TestWrongStateError(t *testing.T) {
	err := error(&WrongStateError{PeerID: 3, Expected: "WaitLocalSdp", Actual: "Stable"})
	assert.ErrorIs(t, err, ErrWrongState)
	assert.Contains(t, err.Error(), "peer 3")
}
