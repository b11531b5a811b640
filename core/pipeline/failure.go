package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrymomot/certflow/core/logger"
	"github.com/dmitrymomot/certflow/core/metrics"
	"github.com/dmitrymomot/certflow/core/queue"
	"github.com/dmitrymomot/certflow/core/store"
)

// HandleFailure is the terminal-failure listener of the DNS Cleaner. It marks
// the certificate failed, clears its order URL, removes leftover challenges,
// flags reconciliation and queues a failure notice. Running it twice has the
// same effect as running it once; errors are logged.
func (s *Service) HandleFailure(ctx context.Context, task *queue.Task, cause error) {
	var p Payload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		s.logger.ErrorContext(ctx, "failure handler: bad payload", logger.TaskID(task.ID), logger.Error(err))
		return
	}
	log := s.logger.With(logger.CertificateID(p.CertificateID), logger.TenantID(p.TenantID), logger.TaskID(task.ID))
	log.WarnContext(ctx, "certificate issuance failed", logger.Error(cause))

	cert, err := s.store.GetCertificate(ctx, p.CertificateID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		cert = nil
	case err != nil:
		log.ErrorContext(ctx, "failure handler: load certificate", logger.Error(err))
		cert = nil
	}

	marked := false
	if cert != nil && cert.Status != store.CertificateIssued {
		alreadyFailed := cert.Status == store.CertificateFailed
		cert.Status = store.CertificateFailed
		cert.OrderURL = nil
		if err := s.store.UpdateCertificate(ctx, cert); err != nil {
			log.ErrorContext(ctx, "failure handler: mark failed", logger.Error(err))
		} else if !alreadyFailed {
			marked = true
			metrics.CertificatesFailed.Inc()
		}
	}

	if _, err := s.store.DeleteChallenges(ctx, p.CertificateID); err != nil {
		log.ErrorContext(ctx, "failure handler: delete challenges", logger.Error(err))
	}
	if s.flag != nil {
		if err := s.flag.SetReconciliationNeeded(ctx, true); err != nil {
			log.ErrorContext(ctx, "failure handler: flag reconciliation", logger.Error(err))
		}
	}

	if marked {
		s.notify(ctx, cert, "Certificate request failed",
			fmt.Sprintf("We could not issue the certificate for %s. You can request it again.", cert.Domain))
	}
}
