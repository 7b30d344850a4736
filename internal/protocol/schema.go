package protocol

import (
	"github.com/invopop/jsonschema"
)

// Schema describes every server -> client payload, keyed by event type.
// Served to third-party viewers that want to validate the feed.
func Schema() map[EventKind]*jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}

	out := make(map[EventKind]*jsonschema.Schema, len(Kinds()))
	for _, kind := range Kinds() {
		v, _ := newEvent(kind)
		schema := reflector.Reflect(v)
		schema.Version = ""
		schema.Title = string(kind)
		out[kind] = schema
	}
	return out
}
