// Package ring implements the membership store behind the group: an ordered
// list of membership records whose ONLINE subset forms a cycle. Heartbeats
// travel to a node's successor and gossip travels to its predecessor.
package ring
