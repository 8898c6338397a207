// Package transcription implements the service's Transcriber port against
// external speech-to-text APIs: a whisper-compatible multipart HTTP client
// with retry/backoff and concurrency capping, and an OpenAI SDK backend.
// Failures are classified as transient (retryable) or permanent; empty
// recognized text is a normal non-error outcome.
package transcription
