// Package clusterserver replicates the CSEG tree across CSEG nodes.
//
// Tree transitions are proposed by the leader's rebalancer through a
// RaftPublisher, committed to a hashicorp/raft log and applied by every
// node's FSM to its cseg.Replica. Memberlist gossip discovers CSEG peers,
// which the leader adds as voters, and space servers, which enter the
// rebalancer's pool of free servers.
package clusterserver
