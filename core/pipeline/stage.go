package pipeline

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/certflow/core/queue"
)

// Stage is one step of certificate issuance.
type Stage int

const (
	StageOrderCreator Stage = iota + 1
	StageDNSWaiter
	StageChallengeCompleter
	StageOrderCompleter
	StageDNSCleaner
)

// StageSpec is the transition table row of a stage.
type StageSpec struct {
	Stage Stage
	// Queue is also used as the task name.
	Queue string
	// Parent is the stage that runs after this one; zero for the root.
	Parent                    Stage
	MaxAttempts               int
	Backoff                   time.Duration
	FailParentOnFailure       bool
	IgnoreDependencyOnFailure bool
}

var stages = map[Stage]StageSpec{
	StageOrderCreator: {
		Stage: StageOrderCreator, Queue: "acme-order-creator", Parent: StageDNSWaiter,
		MaxAttempts: 5, Backoff: 60 * time.Second, FailParentOnFailure: true,
	},
	StageDNSWaiter: {
		Stage: StageDNSWaiter, Queue: "acme-dns-waiter", Parent: StageChallengeCompleter,
		MaxAttempts: 10, Backoff: 10 * time.Second, FailParentOnFailure: true,
	},
	StageChallengeCompleter: {
		Stage: StageChallengeCompleter, Queue: "acme-challenge-completer", Parent: StageOrderCompleter,
		MaxAttempts: 5, Backoff: 60 * time.Second, FailParentOnFailure: true,
	},
	StageOrderCompleter: {
		Stage: StageOrderCompleter, Queue: "acme-order-completer", Parent: StageDNSCleaner,
		MaxAttempts: 3, Backoff: 60 * time.Second, IgnoreDependencyOnFailure: true,
	},
	StageDNSCleaner: {
		Stage: StageDNSCleaner, Queue: "acme-dns-cleaner",
		MaxAttempts: 3, Backoff: 60 * time.Second,
	},
}

// Stages lists every stage in execution order.
func Stages() []Stage {
	return []Stage{StageOrderCreator, StageDNSWaiter, StageChallengeCompleter, StageOrderCompleter, StageDNSCleaner}
}

// Queues lists the queue of every stage in execution order.
func Queues() []string {
	out := make([]string, 0, len(stages))
	for _, s := range Stages() {
		out = append(out, s.Spec().Queue)
	}
	return out
}

// Spec returns the transition table row of s. It panics on an unknown stage.
func (s Stage) Spec() StageSpec {
	spec, ok := stages[s]
	if !ok {
		panic(fmt.Sprintf("pipeline: unknown stage %d", int(s)))
	}
	return spec
}

func (s Stage) String() string {
	if spec, ok := stages[s]; ok {
		return spec.Queue
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// enqueueOptions turns the table row into queue options.
func (s StageSpec) enqueueOptions() []queue.EnqueueOption {
	opts := []queue.EnqueueOption{
		queue.WithQueue(s.Queue),
		queue.WithTaskName(s.Queue),
		queue.WithMaxAttempts(s.MaxAttempts),
		queue.WithBackoff(s.Backoff),
	}
	if s.FailParentOnFailure {
		opts = append(opts, queue.WithFailParentOnFailure())
	}
	if s.IgnoreDependencyOnFailure {
		opts = append(opts, queue.WithIgnoreDependencyOnFailure())
	}
	return opts
}
