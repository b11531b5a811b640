// Package reconciler keeps the DNS provider in line with the record store.
//
// A run compares two CompareStructure snapshots, one built from the store
// and one from the provider zone listing, and applies the difference:
//
//	desired, _ := reconciler.FromStore(ctx, st, "example.com")
//	actual, _ := reconciler.FromProvider(ctx, r53, "example.com")
//	changes := reconciler.BuildChangeset(log, desired, actual)
//
// Reconciler.Run wraps this with the reconciliation flag, a guard against
// overlapping runs, batching at the provider limit and an individual-change
// fallback when a batch is rejected. It is registered as a periodic task on
// the dns-reconciler queue.
package reconciler
