// Package storage persists Detris artifacts. It defines the wire encodings of
// grids, placement chains and Proof-of-Learning records, and an ArtifactStore
// abstraction with in-memory and Badger backends. Relational state lives in
// the sqlstore subpackage.
package storage
