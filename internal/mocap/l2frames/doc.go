// Package l2frames assembles clock-normalized per-sensor samples into
// synchronized multi-sensor frames.
//
// The aligner buffers samples per segment in a bounded window, reinserts
// out-of-order arrivals by sequence number, flags inter-sample gaps as drops,
// and emits a frame once every bound segment has a sample within the
// alignment tolerance of a canonical timestamp. When the window times out it
// emits a partial frame instead, so a silent sensor never stalls the pipeline.
package l2frames
