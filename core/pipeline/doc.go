// Package pipeline issues tenant wildcard certificates through a durable
// five-stage queue flow:
//
//	Order Creator -> DNS Waiter -> Challenge Completer -> Order Completer -> DNS Cleaner
//
// Each stage is a task on its own queue and a child of the stage after it,
// so a stage only runs once the one before it completed. Retry budgets,
// backoff and dependency flags come from the stage table (see StageSpec).
// A permanent failure before the Order Completer fails every stage up to it;
// the Order Completer ignores its own failure towards the DNS Cleaner, which
// therefore always runs, removes the challenges and, when an earlier stage
// failed, fails itself so HandleFailure marks the certificate failed.
//
//	svc, err := pipeline.New(cfg, st, pipeline.LetsEncrypt(acmeClient), resolver, queueService,
//		pipeline.WithNotifier(email.NewNotifier(queueService)),
//	)
//	if err != nil {
//		return err
//	}
//	if err := svc.Register(queueService); err != nil {
//		return err
//	}
//	cert, err := svc.RequestCertificate(ctx, tenantID)
package pipeline
