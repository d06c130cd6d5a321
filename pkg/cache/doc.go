// Package cache provides conditional request caching with a Redis backend.
//
// GitHub answers a request carrying If-None-Match with 304 Not Modified
// when the resource did not change, and a 304 does not count against the
// rate limit. Transport stores every cacheable 200 response with its ETag
// or Last-Modified validator, revalidates on the next request and replays
// the stored body when the upstream answers 304. Callers above the
// transport only ever see the 200.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, 24*time.Hour)
//
//	httpClient := client.NewHTTPClient(client.TransportConfig{
//		Token:      token,
//		Middleware: []func(http.RoundTripper) http.RoundTripper{cache.Middleware(manager, logger)},
//	})
//
// # Metrics
//
//   - forgesync_cache_hits_total{layer="redis"} - Validators found
//   - forgesync_cache_misses_total - No stored response
//   - forgesync_cache_size_bytes{layer="redis"} - Bytes written
//   - forgesync_cache_not_modified_total - 304 responses replayed
//   - forgesync_cache_errors_total{operation} - Cache operation errors
//
// Only GET requests are cached. Keys include a fingerprint of the
// Authorization header so responses never leak between credentials.
package cache
