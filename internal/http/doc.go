// Package http provides the HTTP client used to talk to the order service.
//
// This package handles:
//   - HEAD requests to learn the size of a remote asset
//   - Open-ended range requests (bytes=N-) to resume a transfer
//   - Plain GETs for the order feed and API, retried with backoff
//   - Basic authentication, User-Agent and TLS verification settings
//   - Token-bucket rate limiting of enumeration traffic
//
// # Usage
//
//	client, err := http.NewClient(http.Options{
//	    Timeout:   5 * time.Minute,
//	    Username:  user,
//	    Password:  pass,
//	    RateLimit: 2,
//	})
//
//	info, err := client.Head(ctx, url)
//	resp, err := client.GetFrom(ctx, url, offset)
//	defer resp.Body.Close()
//
// Range requests are never retried here. A failed transfer is resumed by the
// next run from whatever reached the disk.
package http
