// Package layout maps assets onto the local download tree.
//
// Every asset lives in a directory named after its order. While a transfer
// is in progress the data is appended to a partial file; once complete it is
// renamed to its final name:
//
//	{base}/{order_id}/{filename}        (complete)
//	{base}/{order_id}/{filename}.part   (in progress)
//
// The size of the partial file is the only resumption checkpoint. There is
// no separate state file.
package layout
