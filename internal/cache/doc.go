/*
Package cache provides the short lived caches used by the scheme handlers.

Two flavours share one type, Cache[V]:

  - NewTTL: entries expire after a fixed time to live (WebDAV PROPFIND
    results, SFTP sessions). Expired entries read as absent at once; the
    underlying expirable LRU reclaims them in the background.
  - NewLRU: bounded by entry count only (WebDAV redirects, archive indexes,
    credentials).

Keys are strings. Handlers build them from canonical references so that the
same resource always maps to the same key, and RemoveTree can drop a folder
together with everything cached below it:

	meta := cache.NewTTL[*Multistatus](cache.CacheConfig{Name: "webdav_metadata", TTL: 10 * time.Second}, nil)
	meta.RemoveTree("http://h/d")   // drops http://h/d and http://h/d/...

Hit, miss and eviction counters are kept for Stats; a StatsRecorder can
forward hits and misses to the metrics collector.
*/
package cache
