// Package dnsrecord manages tenant DNS records and pushes them to the DNS
// provider ahead of the next reconciliation.
//
// Every mutation is stored as pending, raises the reconciliation flag through
// the store and queues an ApplyRecordChanges task on the dns-changes queue.
// The task handler recomputes the affected record sets from the store, sends
// them in one change batch, waits until the provider reports INSYNC and marks
// the records active. Records of a task that failed for good are marked
// error; the reconciler still converges them later.
//
// A periodic ExpireRecords task on the same queue deletes records past their
// expiry, which raises the flag so the reconciler withdraws them.
//
// The dns-changes worker is meant to run with a rate limit:
//
//	bucket, _ := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.PerSecond(cfg.MutationsPerSecond))
//	worker, _ := queue.NewWorker(storage,
//		queue.WithQueues(dnsrecord.QueueName),
//		queue.WithRateLimit(bucket, dnsrecord.QueueName),
//	)
//	_ = records.Register(worker)
//	_ = records.Schedule(scheduler)
package dnsrecord
