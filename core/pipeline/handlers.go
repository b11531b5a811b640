package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/certflow/core/letsencrypt"
	"github.com/dmitrymomot/certflow/core/logger"
	"github.com/dmitrymomot/certflow/core/metrics"
	"github.com/dmitrymomot/certflow/core/queue"
	"github.com/dmitrymomot/certflow/core/store"
)

type stageFunc func(ctx context.Context, p Payload) error

// stageHandler wraps a stage with logging and metrics.
func (s *Service) stageHandler(stage Stage, fn stageFunc) queue.Handler {
	name := stage.Spec().Queue
	return queue.NewNamedTaskHandler(name, func(ctx context.Context, p Payload) error {
		start := time.Now()
		log := s.logger.With(logger.Stage(name), logger.CertificateID(p.CertificateID), logger.TenantID(p.TenantID))
		if task, ok := queue.TaskFromContext(ctx); ok {
			log = log.With(logger.TaskID(task.ID), logger.Attempt(task.Attempts+1))
		}

		err := fn(ctx, p)
		switch {
		case err == nil:
			metrics.ObserveStage(name, metrics.OutcomeSuccess, time.Since(start))
			log.InfoContext(ctx, "stage completed", logger.Elapsed(start))
		case queue.IsUnrecoverable(err):
			metrics.ObserveStage(name, metrics.OutcomeUnrecoverable, time.Since(start))
			log.ErrorContext(ctx, "stage failed permanently", logger.Error(err))
		default:
			metrics.ObserveStage(name, metrics.OutcomeRetry, time.Since(start))
			log.WarnContext(ctx, "stage will retry", logger.Error(err))
		}
		return err
	})
}

// classify marks errors that retrying cannot fix.
func classify(err error) error {
	if err == nil || queue.IsUnrecoverable(err) {
		return err
	}
	if letsencrypt.IsPermanent(err) {
		return queue.Unrecoverable(err)
	}
	return err
}

func (s *Service) loadCertificate(ctx context.Context, id uuid.UUID) (*store.Certificate, error) {
	cert, err := s.store.GetCertificate(ctx, id)
	if err != nil {
		return nil, queue.Unrecoverable(fmt.Errorf("load certificate: %w", err))
	}
	return cert, nil
}

func (s *Service) recallOrder(ctx context.Context, cert *store.Certificate) (Order, error) {
	if cert.OrderURL == nil || *cert.OrderURL == "" {
		return nil, queue.Unrecoverable(ErrMissingOrderURL)
	}
	order, err := s.acme.RecallOrder(ctx, *cert.OrderURL)
	if err != nil {
		return nil, classify(err)
	}
	return order, nil
}

// createOrder opens (or reuses) the ACME order and stores one challenge with
// its TXT record per authorization.
func (s *Service) createOrder(ctx context.Context, p Payload) error {
	cert, err := s.loadCertificate(ctx, p.CertificateID)
	if err != nil {
		return err
	}
	if cert.Status != store.CertificatePending {
		return queue.Unrecoverable(fmt.Errorf("%w: %s", ErrCertificateNotPending, cert.Status))
	}

	order := s.reuseOrder(ctx, cert)
	if order == nil {
		order, err = s.acme.CreateOrder(ctx, cert.Domain)
		if err != nil {
			return classify(err)
		}
	}

	orderURL := order.URL()
	cert.OrderURL = &orderURL
	if err := s.store.UpdateCertificate(ctx, cert); err != nil {
		return fmt.Errorf("save order url: %w", err)
	}

	if _, err := s.store.DeleteChallenges(ctx, cert.ID); err != nil {
		return fmt.Errorf("delete stale challenges: %w", err)
	}

	recordIDs := make([]uuid.UUID, 0, len(order.Challenges()))
	for _, bundle := range order.Challenges() {
		sub, err := store.ChallengeSubdomain(bundle.Domain, cert.Domain)
		if err != nil {
			return queue.Unrecoverable(err)
		}
		ch := &store.Challenge{CertificateID: cert.ID, Domain: bundle.Domain, ChallengeKey: bundle.Value}
		rec := &store.DNSRecord{TenantID: cert.TenantID, Subdomain: sub, Type: store.RecordTXT, Value: bundle.Value}
		if err := s.store.CreateChallenge(ctx, ch, rec); err != nil {
			return fmt.Errorf("save challenge: %w", err)
		}
		recordIDs = append(recordIDs, rec.ID)
	}

	if s.pusher != nil && len(recordIDs) > 0 {
		if err := s.pusher.PushRecords(ctx, cert.TenantID, recordIDs); err != nil {
			// The reconciler publishes the records on its next run.
			s.logger.WarnContext(ctx, "challenge records not pushed", logger.CertificateID(cert.ID), logger.Error(err))
		}
	}
	return nil
}

// reuseOrder recalls the order stored by an earlier attempt. Nil means a
// new order is needed.
func (s *Service) reuseOrder(ctx context.Context, cert *store.Certificate) Order {
	if cert.OrderURL == nil || *cert.OrderURL == "" {
		return nil
	}
	order, err := s.acme.RecallOrder(ctx, *cert.OrderURL)
	if err != nil {
		s.logger.DebugContext(ctx, "stored order not reusable", logger.CertificateID(cert.ID), logger.Error(err))
		return nil
	}
	return order
}

// waitForDNS succeeds once every challenge value is served authoritatively.
func (s *Service) waitForDNS(ctx context.Context, p Payload) error {
	challenges, err := s.store.ListChallenges(ctx, p.CertificateID)
	if err != nil {
		return fmt.Errorf("list challenges: %w", err)
	}
	if len(challenges) == 0 {
		return queue.Unrecoverable(ErrNoChallenges)
	}

	var errs []error
	for _, ch := range challenges {
		if err := s.verifier.VerifyChallenge(ctx, ch.Domain, ch.ChallengeKey); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrChallengesNotPublished}, errs...)...)
	}
	return nil
}

// completeChallenges asks the CA to validate and waits for the order to be
// ready.
func (s *Service) completeChallenges(ctx context.Context, p Payload) error {
	cert, err := s.loadCertificate(ctx, p.CertificateID)
	if err != nil {
		return err
	}
	order, err := s.recallOrder(ctx, cert)
	if err != nil {
		return err
	}
	ready, err := order.VerifyChallenges(ctx)
	if err != nil {
		return classify(err)
	}
	if !ready {
		return ErrChallengesNotReady
	}
	return nil
}

// completeOrder finalizes the order and stores the issued bundle.
func (s *Service) completeOrder(ctx context.Context, p Payload) error {
	cert, err := s.loadCertificate(ctx, p.CertificateID)
	if err != nil {
		return err
	}
	if cert.Status == store.CertificateIssued {
		return nil
	}
	order, err := s.recallOrder(ctx, cert)
	if err != nil {
		return err
	}

	issued, err := order.CompleteOrder(ctx)
	if err != nil {
		return classify(err)
	}

	cert.Status = store.CertificateIssued
	cert.CertificatePEM = issued.CertificatePEM
	cert.PrivateKeyPEM = issued.PrivateKeyPEM
	cert.ChainPEM = issued.ChainPEM
	cert.ValidFrom = &issued.ValidFrom
	cert.ValidTo = &issued.ValidTo
	if err := s.store.UpdateCertificate(ctx, cert); err != nil {
		return fmt.Errorf("save issued certificate: %w", err)
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, cert); err != nil {
			s.logger.WarnContext(ctx, "certificate archive failed", logger.CertificateID(cert.ID), logger.Error(err))
		}
	}
	s.notify(ctx, cert, "Certificate issued",
		fmt.Sprintf("The certificate for %s was issued and is valid until %s.", cert.Domain, issued.ValidTo.UTC().Format(time.RFC1123)))
	return nil
}

// cleanup removes the challenges. A failed earlier stage fails the cleaner
// afterwards so the failure listener runs.
func (s *Service) cleanup(ctx context.Context, p Payload) error {
	removed, err := s.store.DeleteChallenges(ctx, p.CertificateID)
	if err != nil {
		return fmt.Errorf("delete challenges: %w", err)
	}
	s.logger.DebugContext(ctx, "challenges removed", logger.CertificateID(p.CertificateID), logger.Count("challenges", removed))

	children, err := queue.ChildResults(ctx)
	if err != nil {
		return fmt.Errorf("load stage results: %w", err)
	}
	for _, child := range children {
		if child.Failed() {
			reason := child.Error
			if reason == "" {
				reason = "unknown error"
			}
			return queue.Unrecoverable(fmt.Errorf("%w: %s: %s", ErrDependencyFailed, child.TaskName, reason))
		}
	}
	return nil
}

func (s *Service) notify(ctx context.Context, cert *store.Certificate, subject, message string) {
	if s.notifier == nil {
		return
	}
	tenant, err := s.store.GetTenant(ctx, cert.TenantID)
	if err != nil {
		s.logger.WarnContext(ctx, "tenant lookup for notification failed", logger.TenantID(cert.TenantID), logger.Error(err))
		return
	}
	if tenant.Email == "" {
		return
	}
	if err := s.notifier.Send(ctx, tenant.Email, subject, message); err != nil {
		s.logger.WarnContext(ctx, "notification not queued", logger.TenantID(tenant.ID), logger.Error(err))
		return
	}
	now := time.Now()
	cert.LastNotified = &now
	if err := s.store.UpdateCertificate(ctx, cert); err != nil {
		s.logger.WarnContext(ctx, "last notified not saved", logger.CertificateID(cert.ID), logger.Error(err))
	}
}
