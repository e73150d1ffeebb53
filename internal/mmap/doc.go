// Package mmap maps persisted index blobs read-only into memory so they can
// be decoded without an intermediate copy.
//
//	f, err := mmap.Open("indexes/docs/v3.vbx")
//	if err != nil { ... }
//	defer f.Close()
//	header, payload, err := persistence.Decode(f.Bytes())
//
// Slices returned by Bytes are valid until Close. On platforms without
// mmap(2) the file is read into the heap instead.
package mmap
