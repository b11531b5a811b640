package logger

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Helpers return an empty Attr for zero input; slog drops empty attributes,
// so callers never need to guard optional values.

// Group creates a group of attributes under a single key.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error creates an "error" attribute. Nil errors produce an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Errors groups non-nil errors under "errors" keyed by their position.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Duration creates a "duration" attribute.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elapsed logs the time passed since start.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}

// Component names the emitting subsystem.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event names what happened.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Action names the operation being performed.
func Action(action string) slog.Attr {
	return slog.String("action", action)
}

// Result records an operation outcome.
func Result(result string) slog.Attr {
	return slog.String("result", result)
}

// Count creates an integer attribute with a custom key.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Attempt records the attempt number of a retried operation.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// ID creates an identifier attribute with a custom key.
func ID(key string, value any) slog.Attr {
	if value == nil {
		return slog.Attr{}
	}
	return slog.Any(key, value)
}

func uuidAttr(key string, id uuid.UUID) slog.Attr {
	if id == uuid.Nil {
		return slog.Attr{}
	}
	return slog.String(key, id.String())
}

// TenantID identifies the tenant a record belongs to.
func TenantID(id uuid.UUID) slog.Attr { return uuidAttr("tenant_id", id) }

// CertificateID identifies a certificate.
func CertificateID(id uuid.UUID) slog.Attr { return uuidAttr("certificate_id", id) }

// TaskID identifies a queue task.
func TaskID(id uuid.UUID) slog.Attr { return uuidAttr("task_id", id) }

// Domain records a DNS name.
func Domain(name string) slog.Attr {
	if name == "" {
		return slog.Attr{}
	}
	return slog.String("domain", name)
}

// Stage names an issuance pipeline stage.
func Stage(name string) slog.Attr {
	return slog.String("stage", name)
}

// Queue names a job queue.
func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}

// TaskName names a queue task type.
func TaskName(name string) slog.Attr {
	return slog.String("task_name", name)
}

// RecordType records a DNS record type.
func RecordType(t string) slog.Attr {
	return slog.String("record_type", t)
}

// ChangeCount records how many DNS changes an operation touched.
func ChangeCount(n int) slog.Attr {
	return slog.Int("change_count", n)
}
