package models

// PoolResponse describes one pool.
type PoolResponse struct {
	Name     string              `json:"name"`
	Policy   string              `json:"policy"`
	UseECS   bool                `json:"use_ecs"`
	Backends []string            `json:"backends"`
	Cache    *CacheStatsResponse `json:"cache,omitempty"`
}

// CacheStatsResponse contains the counters of a pool cache.
type CacheStatsResponse struct {
	Entries    int    `json:"entries"`
	Hits       uint64 `json:"hits"`
	StaleHits  uint64 `json:"stale_hits"`
	Misses     uint64 `json:"misses"`
	Insertions uint64 `json:"insertions"`
	Evictions  uint64 `json:"evictions"`
	Collisions uint64 `json:"collisions"`
	Expired    uint64 `json:"expired"`
}

// ExpungeRequest removes cached answers from the cache of Pool ("" is the
// default pool). An empty Name removes every expired entry; Suffix also
// removes names below Name.
type ExpungeRequest struct {
	Pool   string `json:"pool"`
	Name   string `json:"name"`
	Suffix bool   `json:"suffix"`
}

// ExpungeResponse reports how many entries were removed.
type ExpungeResponse struct {
	Removed int `json:"removed"`
}
