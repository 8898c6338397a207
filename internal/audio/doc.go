// Package audio handles audio container formats for transcription uploads.
// It builds WAV containers around raw PCM chunks coming off the capture side,
// parses/validates WAV data for inspection endpoints, and detects container
// formats by magic markers when the client declares none.
package audio
