// Package persistence implements the single-blob layout used to persist an
// index: a fixed header, the serialized index configuration, the vector
// count, a backend-specific payload (optionally lz4 or zstd compressed) and a
// trailing CRC32 checksum.
//
// It also provides the little-endian BinaryWriter and BinaryReader that
// backends use to encode their payloads.
package persistence
