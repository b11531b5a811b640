// Package async runs independent computations concurrently and collects their results.
//
// Async starts fn in its own goroutine and returns a Future for its result:
//
//	storeSnap := async.Async(ctx, rootDomain, loadFromStore)
//	providerSnap := async.Async(ctx, rootDomain, loadFromProvider)
//
//	fromStore, err := storeSnap.Await()
//	...
//
// WaitAll waits for every future and returns the results in order, or the first
// error encountered.
//
// If ctx is already cancelled when the goroutine starts, fn is not called and the
// future resolves with ctx.Err().
package async
