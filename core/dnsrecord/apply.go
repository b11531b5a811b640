package dnsrecord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/certflow/core/logger"
	"github.com/dmitrymomot/certflow/core/metrics"
	"github.com/dmitrymomot/certflow/core/queue"
	"github.com/dmitrymomot/certflow/core/store"
	"github.com/dmitrymomot/certflow/integration/dns/route53"
	"github.com/dmitrymomot/certflow/pkg/txtrecord"
)

// RecordSetKey names one record set of a tenant. Previous holds the values
// the provider is assumed to serve before the change; they are used to
// delete a set that has no records left.
type RecordSetKey struct {
	Subdomain string           `json:"subdomain"`
	Type      store.RecordType `json:"type"`
	Previous  []string         `json:"previous,omitempty"`
}

// ApplyRecordChanges is the dns-changes task payload.
type ApplyRecordChanges struct {
	TenantID  uuid.UUID      `json:"tenantId"`
	RecordIDs []uuid.UUID    `json:"recordIds,omitempty"`
	Sets      []RecordSetKey `json:"sets"`
}

// Handler returns the ApplyRecordChanges task handler.
func (s *Service) Handler() queue.Handler {
	return queue.NewNamedTaskHandler(ApplyTaskName, s.apply)
}

func (s *Service) apply(ctx context.Context, task ApplyRecordChanges) error {
	start := time.Now()
	log := s.logger.With(logger.TenantID(task.TenantID))

	changes, err := s.changes(ctx, task)
	if err != nil {
		metrics.RecordMutations.WithLabelValues(metrics.OutcomeUnrecoverable).Inc()
		return err
	}

	changeID, err := s.provider.ChangeRecordSets(ctx, changes)
	if err == nil {
		err = s.provider.WaitForSync(ctx, changeID)
	}
	if err != nil {
		if route53.IsPermanent(err) {
			metrics.RecordMutations.WithLabelValues(metrics.OutcomeUnrecoverable).Inc()
			return queue.Unrecoverable(err)
		}
		metrics.RecordMutations.WithLabelValues(metrics.OutcomeRetry).Inc()
		log.WarnContext(ctx, "record change will retry", logger.Error(err))
		return err
	}

	if len(task.RecordIDs) > 0 {
		if err := s.store.SetRecordStatus(ctx, store.RecordActive, task.RecordIDs...); err != nil {
			return fmt.Errorf("mark records active: %w", err)
		}
	}
	metrics.RecordMutations.WithLabelValues(metrics.OutcomeSuccess).Inc()
	log.InfoContext(ctx, "record changes applied", logger.ChangeCount(len(changes)), logger.Elapsed(start))
	return nil
}

// changes rebuilds every named record set from the store.
func (s *Service) changes(ctx context.Context, task ApplyRecordChanges) ([]route53.Change, error) {
	tenant, err := s.store.GetTenant(ctx, task.TenantID)
	if err != nil {
		return nil, queue.Unrecoverable(err)
	}
	records, err := s.store.ListTenantRecords(ctx, task.TenantID)
	if err != nil {
		return nil, err
	}
	now := time.Now()

	var changes []route53.Change
	for _, key := range task.Sets {
		name := store.FQDN(key.Subdomain, tenant.Name, s.rootDomain)
		var current []string
		for _, r := range records {
			if r.Subdomain == key.Subdomain && r.Type == key.Type && !r.Expired(now) {
				current = append(current, r.Value)
			}
		}

		switch {
		case len(current) > 1 && !key.Type.MultiValue():
			s.logger.WarnContext(ctx, "conflicting values for single-value record, skipped",
				logger.Domain(name), logger.RecordType(string(key.Type)))
		case len(current) > 0:
			changes = append(changes, recordSetChange(route53.ActionUpsert, name, key.Type, current))
		case len(key.Previous) > 0:
			changes = append(changes, recordSetChange(route53.ActionDelete, name, key.Type, key.Previous))
		}
	}
	if len(changes) == 0 {
		return nil, queue.Unrecoverable(ErrNothingToApply)
	}
	return changes, nil
}

func recordSetChange(action route53.Action, name string, typ store.RecordType, values []string) route53.Change {
	values = slices.Clone(values)
	slices.Sort(values)
	values = slices.Compact(values)
	for i, v := range values {
		values[i] = txtrecord.Encode(string(typ), v)
	}
	return route53.Change{
		Action:    action,
		RecordSet: route53.RecordSet{Name: name, Type: string(typ), TTL: route53.DefaultTTL, Values: values},
	}
}

// HandleFailure marks the records of a failed ApplyRecordChanges task as
// error.
func (s *Service) HandleFailure(ctx context.Context, task *queue.Task, cause error) {
	var payload ApplyRecordChanges
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		s.logger.ErrorContext(ctx, "failure handler: bad payload", logger.TaskID(task.ID), logger.Error(err))
		return
	}
	log := s.logger.With(logger.TenantID(payload.TenantID), logger.TaskID(task.ID))
	if errors.Is(cause, ErrNothingToApply) || len(payload.RecordIDs) == 0 {
		log.WarnContext(ctx, "record change dropped", logger.Error(cause))
		return
	}
	if err := s.store.SetRecordStatus(ctx, store.RecordError, payload.RecordIDs...); err != nil {
		log.ErrorContext(ctx, "failure handler: mark records", logger.Error(err))
		return
	}
	log.WarnContext(ctx, "record change failed", logger.Count("records", len(payload.RecordIDs)), logger.Error(cause))
}
