// Package lateral replicates cache mutations from this node to its peers
// ("laterals") without blocking the caller, keeps serving when a peer is down,
// and reconnects broken peers in the background.
//
// Components:
//   - Endpoint[V]: transport client for one peer (endpoint/local, endpoint/redis).
//   - PeerCache: synchronous view of one region on one peer. On a transport error
//     it swaps its endpoint for a fail-safe stub that buffers mutations and misses
//     on reads.
//   - AsyncPeerCache: PeerCache behind a per-peer FIFO event queue. This is what
//     callers hold.
//   - Group: all peers of one region. Writes fan out, Get takes the first hit,
//     GetMatching merges, KeySet is a union.
//   - Registry: every region replicating to one peer, plus their shared endpoint.
//   - Monitor: one goroutine that finds registries in ERROR, dials a fresh
//     endpoint and hands it to every cache of the peer (buffered mutations are
//     replayed first).
//   - Manager: builds all of the above from RegionAttributes.
//
// Usage:
//
//	m, _ := lateral.NewManager[User](lateral.Options[User]{
//	    Dialer: redisep.Dialer[User](codec.Msgpack[User]{}, redisep.Options{}),
//	    Logger: zaplog.New(z),
//	})
//	defer m.Close(context.Background())
//
//	users, _ := m.Region(ctx, lateral.RegionAttributes{
//	    Region:  "users",
//	    Peers:   lateral.ParsePeers("10.0.0.2:6379,10.0.0.3:6379"),
//	    PutOnly: true,
//	})
//	_ = users.Update(ctx, &lateral.Element[User]{Key: "u:1", Value: u})
//
// Nothing on the Cache API returns transport errors: peer health shows up in
// Status, Stats, logs and Hooks.
package lateral
