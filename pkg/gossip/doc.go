// Package gossip implements ring membership for a small group of nodes.
//
// Live nodes form a logical ring ordered by admission. Each node heartbeats
// its successor over one UDP channel and watches its predecessor; a silent
// predecessor is declared failed. Membership events (joined, left, failed)
// travel the other way around the ring on a second channel as changelists:
// every node merges what it receives, drops the events it originated once
// they come back, and forwards the rest to its predecessor with its own
// pending events piggybacked.
//
// A fixed recruiter admits new nodes. Typical usage:
//
//	tr, _ := gossip.ListenUDP(gossip.UDPConfig{...}, log)
//	d := gossip.New(id, gossip.DefaultConfig(), tr, log)
//	if err := d.Start(ctx); err != nil { ... }
//	defer d.Stop()
//
// MemoryNetwork provides an in-process Transport for tests.
package gossip
