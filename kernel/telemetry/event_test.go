package telemetry_test

import (
	"testing"

	"github.com/nmxmxh/modhost/kernel/telemetry"
	"github.com/stretchr/testify/assert"
)

func TestDeliverCallsEverySubscriberInOrder(t *testing.T) {
	var order []string
	subs := []telemetry.Subscriber{
		{Data: "first", OnEvent: func(data any, ev *telemetry.Event) { order = append(order, data.(string)) }},
		{Data: "second", OnEvent: func(data any, ev *telemetry.Event) { order = append(order, data.(string)) }},
	}

	telemetry.Deliver(subs, &telemetry.Event{Tag: telemetry.LogMessage, Message: "hi"})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDeliverSkipsNilOnEvent(t *testing.T) {
	subs := []telemetry.Subscriber{{Data: "x", OnEvent: nil}}
	assert.NotPanics(t, func() {
		telemetry.Deliver(subs, &telemetry.Event{Tag: telemetry.EnterSpan})
	})
}
