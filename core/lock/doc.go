// Package lock provides named, expiring locks stored in Redis.
//
// A lock is held by an opaque holder value. TryLock acquires a free lock or
// renews one already held by the same holder, and Release only deletes a lock
// whose holder matches:
//
//	locks, _ := lock.NewStore(rdb, "jobs")
//	holder := lock.NewHolder()
//
//	ok, err := locks.TryLock(ctx, "nightly-report", holder, time.Minute)
//	if err != nil || !ok {
//		return err
//	}
//	defer locks.Release(ctx, "nightly-report", holder)
//
// Keys are stored as <namespace>:lock:<name>. Locks expire after their TTL,
// which must be at least MinTTL.
package lock
