// Package route53 is the DNS provider client for a single hosted zone.
//
// It exposes the three provider operations the reconciler and the record
// mutation queue need: paginated listing of record sets, batched change
// submission and change status lookup, plus WaitForSync, which polls a change
// until the provider reports it in sync.
//
// Values cross this boundary in provider wire form. TXT values are quoted and
// escaped; use pkg/txtrecord to convert them.
//
//	client, err := route53.New(ctx, route53.Config{HostedZoneID: "Z123", Region: "us-east-1"})
//	if err != nil {
//		return err
//	}
//	id, err := client.ChangeRecordSets(ctx, []route53.Change{{
//		Action:    route53.ActionUpsert,
//		RecordSet: route53.RecordSet{Name: "www.acme.example.com.", Type: "A", TTL: 300, Values: []string{"192.0.2.1"}},
//	}})
//	if err != nil {
//		return err
//	}
//	return client.WaitForSync(ctx, id)
package route53
