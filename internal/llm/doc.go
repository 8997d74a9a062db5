// Package llm wraps the Ollama API for the enrichment steps.
//
// The client issues non-streaming generate requests (plain text or JSON
// mode) and embedding requests, retrying timeouts, rate limits and 5xx
// responses with capped exponential backoff. Errors are tagged with the
// services markers so the orchestrator can classify them: a missing model is
// a configuration error, timeouts are transient, and unusable model output
// is a validation error.
//
// DecodeLLMJSON tolerates the usual model formatting quirks (code fences,
// prose around the object) when decoding JSON responses.
package llm
