// Package letsencrypt drives ACME orders for tenant wildcard certificates
// using DNS-01 challenges.
//
// A Client owns the ACME account. CreateOrder opens an order for a domain and
// its wildcard, RecallOrder reloads one from its persisted URL. An Order
// exposes the DNS-01 TXT values to publish, accepts challenges once they are
// published and finalizes with a freshly generated RSA-2048 key.
//
// All calls are stateless with respect to the order: each method fetches the
// current order state from the CA, so an Order can be recalled by any worker
// at any time from its URL.
//
//	client, err := letsencrypt.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	order, err := client.CreateOrder(ctx, "acme.example.com")
//	if err != nil {
//		return err
//	}
//	for _, ch := range order.Challenges() {
//		// publish TXT ch.Domain = ch.Value
//	}
//
// VerifyChallenge checks that a TXT value is visible on every authoritative
// nameserver of the zone before challenges are accepted.
//
// # Errors
//
// Permanent failures (configuration, malformed order URLs, terminal order or
// authorization states) match ErrConfig, ErrInvalidOrderURL or ErrOrderFailed;
// use IsPermanent to classify. ErrOrderNotReady and ErrChallengeNotPublished
// are expected while an order progresses.
package letsencrypt
