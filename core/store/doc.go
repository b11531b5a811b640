// Package store defines the record-of-truth for tenants, certificates,
// ACME challenges and tenant DNS records, plus the reconciliation flag that
// every DNS-affecting mutation raises.
//
// Implementations must raise the flag for every Challenge or DNSRecord
// mutation and must delete a certificate's challenges (and the TXT records
// they own) together with the certificate.
//
// Memory is a complete in-process implementation used by tests and the
// development server. The Postgres implementation lives in
// integration/database/pg.
package store
