package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hot-store key layout. These are contractual: external dashboards and other
// service instances address the same keys.
//
//	memory:{id}          serialized memory (L1/L2 distinguished only by TTL)
//	memory:keywords:{id} set of words indexed for this memory
//	keyword:{word}       set of memory ids containing word
//	cache:metadata       hash of access counters, field access:{id}
//	search:{md5}:{limit} serialized search result list
const (
	memoryPrefix         = "memory:"
	memoryKeywordsPrefix = "memory:keywords:"
	keywordPrefix        = "keyword:"
	searchPrefix         = "search:"
	metadataKey          = "cache:metadata"
	accessFieldPrefix    = "access:"
)

func memoryKey(id string) string { return memoryPrefix + id }

func memoryKeywordsKey(id string) string { return memoryKeywordsPrefix + id }

func keywordKey(word string) string { return keywordPrefix + word }

func accessField(id string) string { return accessFieldPrefix + id }

// searchCacheKey derives the search-cache key for a (query, limit) pair.
func searchCacheKey(query string, limit int) string {
	sum := md5.Sum([]byte(query))
	return fmt.Sprintf("%s%s:%d", searchPrefix, hex.EncodeToString(sum[:]), limit)
}

// isMemoryRecordKey distinguishes memory:{id} records from the
// memory:keywords:{id} sets that share the memory: prefix under SCAN.
func isMemoryRecordKey(key string) bool {
	return strings.HasPrefix(key, memoryPrefix) && !strings.HasPrefix(key, memoryKeywordsPrefix)
}

// idFromMemoryKey strips the memory: prefix.
func idFromMemoryKey(key string) string {
	return strings.TrimPrefix(key, memoryPrefix)
}
