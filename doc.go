// Package marketcache provides the caching subsystem for the QuoteDeck
// desktop application. It combines a category-aware TTL policy, an in-memory
// LRU store, write-through disk persistence and usage statistics behind a
// single concurrency-safe manager.
package marketcache
