package reconciler

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dmitrymomot/certflow/core/store"
	"github.com/dmitrymomot/certflow/integration/dns/route53"
	"github.com/dmitrymomot/certflow/pkg/txtrecord"
)

// ValueSet is an unordered set of record values.
type ValueSet map[string]struct{}

// Sorted returns the values in lexical order.
func (v ValueSet) Sorted() []string {
	return slices.Sorted(maps.Keys(v))
}

// Equal reports whether both sets hold the same values.
func (v ValueSet) Equal(other ValueSet) bool {
	if len(v) != len(other) {
		return false
	}
	for value := range v {
		if _, ok := other[value]; !ok {
			return false
		}
	}
	return true
}

// CompareStructure maps an FQDN (with trailing dot) to record type to values.
type CompareStructure map[string]map[store.RecordType]ValueSet

// Add records value under name and type.
func (c CompareStructure) Add(name string, typ store.RecordType, value string) {
	types, ok := c[name]
	if !ok {
		types = make(map[store.RecordType]ValueSet)
		c[name] = types
	}
	values, ok := types[typ]
	if !ok {
		values = make(ValueSet)
		types[typ] = values
	}
	values[value] = struct{}{}
}

// Values returns the set for name and type, or nil.
func (c CompareStructure) Values(name string, typ store.RecordType) ValueSet {
	return c[name][typ]
}

// Len counts the name and type pairs.
func (c CompareStructure) Len() int {
	n := 0
	for _, types := range c {
		n += len(types)
	}
	return n
}

// Merge adds every value of other to c.
func (c CompareStructure) Merge(other CompareStructure) {
	for name, types := range other {
		for typ, values := range types {
			for value := range values {
				c.Add(name, typ, value)
			}
		}
	}
}

// RecordLister reads the records the store wants published.
type RecordLister interface {
	ListLiveRecords(ctx context.Context, now time.Time) ([]store.DNSRecord, error)
}

// RecordSetLister pages through the provider zone.
type RecordSetLister interface {
	ListRecordSets(ctx context.Context, cursor *route53.Cursor) (route53.RecordSetPage, error)
}

// FromStore groups every unexpired record by FQDN and type.
func FromStore(ctx context.Context, records RecordLister, rootDomain string) (CompareStructure, error) {
	live, err := records.ListLiveRecords(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	out := make(CompareStructure)
	for _, r := range live {
		out.Add(strings.ToLower(r.FQDN(rootDomain)), r.Type, r.Value)
	}
	return out, nil
}

// FromProvider lists the whole zone and keeps the managed record sets.
func FromProvider(ctx context.Context, lister RecordSetLister, rootDomain string) (CompareStructure, error) {
	out := make(CompareStructure)
	var cursor *route53.Cursor
	for {
		page, err := lister.ListRecordSets(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out.Merge(pageStructure(page, rootDomain))
		if page.Next == nil {
			return out, nil
		}
		cursor = page.Next
	}
}

// pageStructure returns the managed record sets of one page in a new
// structure. Names are decoded and lowercased the way FQDN keys them.
func pageStructure(page route53.RecordSetPage, rootDomain string) CompareStructure {
	out := make(CompareStructure, len(page.RecordSets))
	for _, rs := range page.RecordSets {
		typ := store.RecordType(strings.ToUpper(rs.Type))
		if !typ.Valid() {
			continue
		}
		name := strings.ToLower(route53.DecodeName(rs.Name))
		if !managedName(name, rootDomain) {
			continue
		}
		for _, value := range rs.Values {
			out.Add(name, typ, txtrecord.Decode(string(typ), value))
		}
	}
	return out
}

// managedName matches <subdomain>.<tenant>.<root>. names.
func managedName(name, rootDomain string) bool {
	suffix := "." + strings.ToLower(strings.TrimSuffix(rootDomain, ".")) + "."
	if !strings.HasSuffix(name, suffix) {
		return false
	}
	labels := strings.Split(strings.TrimSuffix(name, suffix), ".")
	if len(labels) < 2 {
		return false
	}
	return !slices.Contains(labels, "")
}
