// Package order enumerates the completed assets of one or all orders.
//
// Two backends implement [Enumerator]:
//   - [Feed] reads the per-user RSS status feed
//   - [API] queries the JSON API (list-orders and item-status)
//
// Both produce assets lazily as an iter.Seq2. Credential rejections are
// reported as [ErrAuthentication] and end the sequence. A missing order is
// reported as [ErrOrderNotFound]; when enumerating ALL orders the sequence
// continues with the next order.
package order
