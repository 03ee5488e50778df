// Package chunkio reads and writes the CRC-guarded chunks that make up a
// JLS file.
//
// Each chunk is a fixed 32-byte little-endian header, a payload, and a
// 4-byte payload checksum. The header carries the absolute offsets of the
// chunk's logical successor and predecessor within its track, forming a
// doubly-linked list on disk. The header checksum covers the 28 bytes
// preceding its slot; the payload checksum covers the payload bytes.
//
// Neither Files nor their cursors are safe for use in multiple goroutines.
package chunkio

import "hash/crc32"

// The wire checksum is CRC-32 with Castagnoli's polynomial. hash/crc32 uses
// hardware instructions where available; the wire value is the same either
// way.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC returns the CRC-32C checksum of b.
func CRC(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}
