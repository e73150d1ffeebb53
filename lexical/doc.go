// Package lexical defines keyword search over chunk text and the reciprocal
// rank fusion used to merge keyword and vector rankings.
//
// The bm25 subpackage provides the in-memory implementation:
//
//	idx := bm25.New()
//	_ = idx.Add("doc#0", "rotate api keys every ninety days")
//	hits, _ := idx.Search("api keys", 10)
//
// Hybrid retrieval ranks the same query twice and fuses the id lists:
//
//	fused := lexical.Fuse(lexical.DefaultRRFK, 5, vectorIDs, keywordIDs)
package lexical
