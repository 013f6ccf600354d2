// Package mmap maps persisted cache records read-only.
//
// The local blob store reads records through a Region instead of kernel
// buffers, so promoting a record from the persistent tier copies the
// payload once, into the memory tier.
//
//	r, err := mmap.Open("v1/42.fcr", mmap.HintSequential)
//	if err != nil { ... }
//	defer r.Close()
//	data, err := r.Bytes()
//
// A Region is safe for concurrent reads.
package mmap
