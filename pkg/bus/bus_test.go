package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_DeliversToExactTopic(t *testing.T) {
	m := NewMemory()

	var got []string
	require.NoError(t, m.Subscribe("waste/raw", func(topic, payload string) {
		got = append(got, topic+"="+payload)
	}))

	require.NoError(t, m.Publish("waste/raw", "start"))
	require.NoError(t, m.Publish("waste/sensor2", "42"))

	assert.Equal(t, []string{"waste/raw=start"}, got)
	assert.Equal(t, []string{"42"}, m.PublishedOn("waste/sensor2"))
	assert.Len(t, m.Published(), 2)
}

func TestMemory_HandlerMayPublish(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Subscribe("a", func(_, payload string) {
		require.NoError(t, m.Publish("b", payload+"!"))
	}))

	require.NoError(t, m.Publish("a", "hi"))
	assert.Equal(t, []string{"hi!"}, m.PublishedOn("b"))
}

func TestMemory_Closed(t *testing.T) {
	m := NewMemory()
	m.Close()
	assert.ErrorIs(t, m.Publish("a", "x"), ErrClosed)
	assert.ErrorIs(t, m.Subscribe("a", func(string, string) {}), ErrClosed)
}
