// Package postmark implements email.EmailSender on the Postmark
// transactional API.
//
//	sender, err := postmark.New(postmark.Config{
//		PostmarkServerToken: os.Getenv("POSTMARK_SERVER_TOKEN"),
//		SenderEmail:         "certs@example.com",
//	})
//
// Delivery failures and Postmark error codes are joined with
// email.ErrFailedToSendEmail.
package postmark
