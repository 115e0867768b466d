// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"hash/fnv"
	"sync"
)

const keyLockShards = 32

// keyLock serializes mutating flows per license key. Keys hash to a
// fixed shard set so the lock table never grows with the key space.
type keyLock struct {
	shards [keyLockShards]sync.Mutex
}

func (l *keyLock) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &l.shards[h.Sum32()%keyLockShards]
	mu.Lock()
	return mu.Unlock
}
