// Package vad provides a lightweight energy-based silence gate for PCM
// audio. It scores fixed-size sample windows by RMS energy so the ingest
// path can skip chunks that are plainly silence before they reach the
// transcription pipeline.
package vad
