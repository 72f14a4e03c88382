// Package subscriptions stores the per-subject subscription record written by
// the billing integration.
//
// The engine never mutates a subscription while deciding a request. Records
// change only through ApplyEvent (or Create/Save) as upstream billing events
// arrive. A record that is not currently entitled is treated by the resolver
// as if it were absent, which drops the subject to the free tier.
package subscriptions
