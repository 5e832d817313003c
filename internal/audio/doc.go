// Package audio converts interleaved PCM chunks to mono sample windows.
// FrameCodec downmixes by channel selection, WindowBuffer batches samples
// into fixed-duration windows across chunk boundaries.
package audio
