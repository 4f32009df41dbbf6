package ports

import "context"

// ImagePayload is an image attachment resolved from a state key.
type ImagePayload struct {
	// Key is the state key the payload came from.
	Key string
	// Ref is the value held by that key, typically a path or URL. The
	// model adapter decides how to load it.
	Ref string
}

// ModelClient is the opaque model capability prompt nodes dispatch to.
// The engine treats it as a potentially slow, potentially failing remote
// call and does not retry it beyond the node's own policy.
type ModelClient interface {
	Invoke(ctx context.Context, prompt string, images []ImagePayload) (string, error)
}
