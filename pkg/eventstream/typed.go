package eventstream

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/opencode-ai/eventstream/internal/bridge"
)

// On registers a listener that decodes each payload of kind into T. A payload that
// does not decode is logged and skipped for this listener only.
func On[T any](c *Client, kind string, fn func(T)) (unregister func()) {
	return c.AddEventListener(kind, func(ev Event) {
		var v T
		if err := json.Unmarshal(ev.Data, &v); err != nil {
			c.log.Warn().Err(err).Str("kind", ev.Kind).Msg("dropping event: payload does not decode")
			return
		}
		fn(v)
	})
}

// Bridge forwards events to a watermill publisher until closed.
type Bridge = bridge.Bridge

// Forward republishes events of the given kinds (all kinds when none are given) on
// pub, on topic "events.<kind>". The bridge survives reconnects like any listener.
func Forward(c *Client, pub message.Publisher, kinds ...string) *Bridge {
	return bridge.Forward(c, pub, kinds...)
}
