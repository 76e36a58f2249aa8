package presence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshlukkad/colink-presence-gateway/pkg/presence"
)

func TestDecodeClientMessage(t *testing.T) {
	t.Run("valid subscribe", func(t *testing.T) {
		msg, err := presence.DecodeClientMessage([]byte(`{"type":"subscribe","room_id":"room-1"}`))
		require.NoError(t, err)
		assert.Equal(t, presence.TypeSubscribe, msg.Type)
		assert.Equal(t, "room-1", msg.RoomID)
	})

	t.Run("ping without room id", func(t *testing.T) {
		msg, err := presence.DecodeClientMessage([]byte(`{"type":"ping"}`))
		require.NoError(t, err)
		assert.Equal(t, presence.TypePing, msg.Type)
		assert.Empty(t, msg.RoomID)
	})

	t.Run("unknown fields are tolerated", func(t *testing.T) {
		msg, err := presence.DecodeClientMessage([]byte(`{"type":"typing","room_id":"r","extra":true}`))
		require.NoError(t, err)
		assert.Equal(t, presence.TypeTyping, msg.Type)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := presence.DecodeClientMessage([]byte("hello"))
		assert.Error(t, err)
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := presence.DecodeClientMessage([]byte(`{"room_id":"room-1"}`))
		assert.Error(t, err)
	})
}
