// Package convert implements the service's format conversion port by
// shelling out to ffmpeg. Conversion failures are soft: the accumulation
// policy treats them like an empty transcription result, so errors here are
// logged but never surfaced to clients.
package convert
