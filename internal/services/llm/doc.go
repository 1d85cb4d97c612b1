// Package llm provides an OpenRouter-compatible chat client for the
// multimodal reasoning calls made by every pipeline stage.
//
// # Requests
//
// A Request carries a system prompt, a user prompt, optional inline images
// (sent as base64 data URLs in the multi-part content form) and an optional
// conversation history replayed before the prompt. Responses are always
// requested as JSON objects; DecodeLLMJSON tolerates code fences and prose
// wrapped around the payload.
//
// # Streaming
//
// Setting Request.OnChunk switches the call to server-sent events. The
// callback observes every delta and Complete still returns the assembled
// payload, so callers never depend on streaming for correctness.
//
// # Configuration
//
// Requires api_key and model, optionally base_url, referer, title, timeout.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.Complete: send a multimodal request, receive the JSON payload text.
// Client.CompleteJSON: text-only convenience wrapper.
// Client.HealthCheck: verify API key and model availability.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors, empty completions and
// network timeouts with exponential backoff (base 1s, max 10s, 3 attempts by
// default). Retry-After headers are honoured up to the max delay. Context
// cancellation aborts retries immediately.
package llm
