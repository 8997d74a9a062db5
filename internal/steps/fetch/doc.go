// Package fetch retrieves an item's raw document, keeps a content-addressed
// copy, and extracts the metadata and readable text later steps work from.
//
// A stored copy is reused when the item still references one that has not
// been deleted and was not truncated by the size cap.
package fetch
