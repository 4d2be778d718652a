// Package cseg implements coordinate segmentation: a binary space
// partition of the world volume whose leaves are owned by space servers.
//
// Readers resolve points against immutable snapshots held by a Tree and
// never block. The tree changes only by Transitions (split or merge)
// applied through a Replica, either directly with a LocalPublisher or after
// they commit to a replicated log.
//
// The Rebalancer estimates population per leaf from samples and plans
// transitions: a leaf above MaxLeafPopulation splits along its longest
// axis at the sample median, handing the upper half to a free server;
// sibling leaves together below half the threshold merge back. Each
// transition runs a freeze, prepare, publish and release handoff with the
// servers involved and rolls back when they do not confirm in time.
package cseg
