// Package store provides persistence for parley: identities, rooms,
// threads, and append-only messages, backed by SQLite.
//
// # Data model
//
//   - Identity: a directory entry, human or assistant (tagged kind)
//   - Room: named group conversation with an owner and member set
//   - Thread: direct conversation addressed by its sorted participant set
//   - Message: append-only, timestamped by the store at write time
//
// # Write semantics
//
// CreateThread and CreateIdentity are atomic create-if-absent primitives:
// a concurrent duplicate attempt fails with ErrDuplicateThread /
// ErrDuplicateIdentity instead of silently racing. Message timestamps are
// assigned server-side and are strictly monotonic per store instance, so
// ordering by timestamp is total regardless of client submission order.
//
// # Watches
//
// WatchIdentities, WatchRooms, WatchThreads and WatchMessages return live
// snapshot streams: the current snapshot is delivered on subscribe and a
// fresh one after every mutation of the collection. Delivery is
// last-snapshot-wins; slow receivers skip intermediate snapshots but always
// end up on the newest. Cancelling is unconditional and closes the channel.
package store
