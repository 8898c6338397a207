// Package session scopes accumulation state to independent capture sessions.
// Each session owns one accumulation policy; a registry hands chunks to the
// right policy by session ID and evicts sessions that go idle.
package session
