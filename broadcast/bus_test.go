package broadcast_test

import (
	"testing"

	"github.com/jrsteele09/storefront-session/broadcast"
	"github.com/stretchr/testify/require"
)

func TestBus(t *testing.T) {
	bus := broadcast.NewBus()

	var got []string
	unsubA := bus.Subscribe(func(ev broadcast.Event) { got = append(got, "a:"+ev.Name) })
	bus.Subscribe(func(ev broadcast.Event) { got = append(got, "b:"+ev.Name) })

	bus.Publish(broadcast.Event{Name: broadcast.AuthChange})
	require.Equal(t, []string{"a:authChange", "b:authChange"}, got)

	unsubA()
	unsubA()
	got = nil
	bus.Publish(broadcast.Event{Name: broadcast.Storage})
	require.Equal(t, []string{"b:storage"}, got)
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := broadcast.NewBus()
	bus.Subscribe(func(broadcast.Event) { panic("boom") })
	delivered := false
	bus.Subscribe(func(broadcast.Event) { delivered = true })

	require.NotPanics(t, func() { bus.Publish(broadcast.Event{Name: broadcast.AuthChange}) })
	require.True(t, delivered)
}

func TestBus_UnsubscribeInsideHandler(t *testing.T) {
	bus := broadcast.NewBus()
	calls := 0
	var unsub func()
	unsub = bus.Subscribe(func(broadcast.Event) {
		calls++
		unsub()
	})
	bus.Publish(broadcast.Event{Name: broadcast.AuthChange})
	bus.Publish(broadcast.Event{Name: broadcast.AuthChange})
	require.Equal(t, 1, calls)
}
