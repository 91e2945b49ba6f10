// Package asset describes a single remote file that belongs to an order.
//
// An [Asset] is built from its download URL: the filename is the last path
// segment and the display name is the filename without the archive suffix.
// Assets are values and are never modified after construction. The companion
// checksum file of a payload is obtained with [Asset.Checksum], which returns
// a new Asset.
//
//	a, err := asset.New(url, "user@example.com-0101", asset.WithSequence(3, 12))
//	sum, err := a.Checksum()
package asset
