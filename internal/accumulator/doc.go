// Package accumulator implements the retry policy for unreliable single-shot
// transcription calls: audio that yields no recognized text is carried
// forward and prepended to the next chunk, so speech spanning a chunk
// boundary can still be recovered. The policy gives up after a configured
// run of consecutive empty results and never lets the carried buffer grow
// past a ceiling.
package accumulator
