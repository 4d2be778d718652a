// Package domain defines the core types shared by the segmentation services.
//
// Identifiers (ServerID, ObjectID), the OSEG entry and its 10-byte wire
// form, world geometry, the shard-key hash functions and the typed error
// taxonomy all live here so the index, the tree and the transports agree
// on one vocabulary.
package domain
