// Package hash provides hardware-accelerated checksums for persisted cache records.
//
// All record checksums use CRC32-Castagnoli (CRC32C), which Go's crc32
// package accelerates with SSE4.2 on x86 and the CRC extension on ARM.
//
//	checksum := hash.CRC32C(data)
//
//	h := hash.NewCRC32C()
//	h.Write(header)
//	h.Write(body)
//	checksum := h.Sum32()
package hash
