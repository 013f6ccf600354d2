// Package generate implements the task handlers that produce cache content:
// frame thumbnails, frame ranges, image optimization and quality analysis.
//
// Frames come from a FrameSource. Decoding real video is outside this
// module; SyntheticSource renders a deterministic test pattern per key.
package generate
