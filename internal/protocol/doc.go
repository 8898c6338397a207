// Package protocol implements the binary frame protocol for the raw-socket
// transport: a 5-byte type+length header followed by the payload. Clients
// send Hello, Audio, and Reset frames; the server answers Audio frames with
// JSON Result frames.
package protocol
