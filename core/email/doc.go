// Package email sends tenant notifications.
//
// EmailSender is the delivery contract, implemented by DevSender (files on
// disk) and the Postmark client in integration/email/postmark. Notifier puts
// messages on the "notifications" queue as email.Notification tasks with five
// delivery attempts; NewNotificationHandler is the worker side that hands them
// to an EmailSender.
//
//	notifier := email.NewNotifier(queueService)
//	_ = notifier.Send(ctx, "ops@tenant.test", "Certificate issued", "Your certificate is ready.")
//
//	queueService.RegisterHandler(email.NewNotificationHandler(sender, log))
package email
