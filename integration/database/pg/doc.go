// Package pg is the Postgres backend of certflow.
//
// Connect opens a pgx pool and retries the first ping with exponential
// backoff. Migrate applies the embedded goose migrations. Store implements
// store.Store and keeps the reconciliation flag in the system_state row,
// raised in the same transaction as every challenge or record mutation.
// QueueStorage implements queue.Storage on the tasks table and claims work
// with FOR UPDATE SKIP LOCKED, so several processes can share one queue.
//
// Writes join a transaction placed on the context with WithTx:
//
//	tx, err := pool.Begin(ctx)
//	if err != nil {
//		return err
//	}
//	defer tx.Rollback(ctx)
//
//	ctx = pg.WithTx(ctx, tx)
//	if err := st.CreateCertificate(ctx, cert); err != nil {
//		return err
//	}
//	if _, err := enqueuer.EnqueueFlow(ctx, flow); err != nil {
//		return err
//	}
//	return tx.Commit(ctx)
package pg
