package reconciler

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/dmitrymomot/certflow/core/logger"
	"github.com/dmitrymomot/certflow/core/store"
	"github.com/dmitrymomot/certflow/integration/dns/route53"
	"github.com/dmitrymomot/certflow/pkg/txtrecord"
)

// BuildChangeset returns the changes that turn actual into desired.
//
// Keys present only in actual are deleted with the provider's values so the
// delete matches. Keys whose value set differs, or that actual lacks, are
// upserted. A non multi-value type holding more than one value in desired
// is logged and skipped. Changes are ordered by name, then type, then
// action.
func BuildChangeset(log *slog.Logger, desired, actual CompareStructure) []route53.Change {
	if log == nil {
		log = logger.Discard()
	}
	var changes []route53.Change

	for name, types := range actual {
		for typ, values := range types {
			if desired.Values(name, typ) != nil {
				continue
			}
			changes = append(changes, change(route53.ActionDelete, name, typ, values))
		}
	}

	for name, types := range desired {
		for typ, values := range types {
			if len(values) > 1 && !typ.MultiValue() {
				log.WarnContext(context.Background(), "conflicting values for single-value record, skipped",
					logger.Domain(name), logger.RecordType(string(typ)), logger.Count("values", len(values)))
				continue
			}
			if current := actual.Values(name, typ); current != nil && current.Equal(values) {
				continue
			}
			changes = append(changes, change(route53.ActionUpsert, name, typ, values))
		}
	}

	slices.SortFunc(changes, func(a, b route53.Change) int {
		return cmp.Or(
			cmp.Compare(a.RecordSet.Name, b.RecordSet.Name),
			cmp.Compare(a.RecordSet.Type, b.RecordSet.Type),
			cmp.Compare(a.Action, b.Action),
		)
	})
	return changes
}

func change(action route53.Action, name string, typ store.RecordType, values ValueSet) route53.Change {
	sorted := slices.Sorted(maps.Keys(values))
	encoded := make([]string, len(sorted))
	for i, v := range sorted {
		encoded[i] = txtrecord.Encode(string(typ), v)
	}
	return route53.Change{
		Action: action,
		RecordSet: route53.RecordSet{
			Name:   name,
			Type:   string(typ),
			TTL:    route53.DefaultTTL,
			Values: encoded,
		},
	}
}
