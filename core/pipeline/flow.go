package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/certflow/core/queue"
)

// Payload is shared by every stage task.
type Payload struct {
	RootDomain    string    `json:"rootDomain"`
	TenantID      uuid.UUID `json:"tenantId"`
	CertificateID uuid.UUID `json:"certificateId"`
}

// BuildFlow nests the stages so that each one is a child of the stage that
// runs after it. The DNS Cleaner is the root and the Order Creator the leaf.
func BuildFlow(p Payload) queue.Flow {
	return buildFlow(p, 0)
}

// buildFlow overrides every stage backoff when backoff is positive.
func buildFlow(p Payload, backoff time.Duration) queue.Flow {
	var node *queue.Flow
	for _, s := range Stages() {
		spec := s.Spec()
		if backoff > 0 {
			spec.Backoff = backoff
		}
		f := queue.Flow{Payload: p, Options: spec.enqueueOptions()}
		if node != nil {
			f.Children = []queue.Flow{*node}
		}
		node = &f
	}
	return *node
}
