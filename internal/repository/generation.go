package repository

import (
	"sync/atomic"
	"time"
)

var lastGeneration atomic.Int64

// nextGeneration 返回一个进程内严格递增的 generation。取值基于纳秒时间戳，
// 租户被清空后重新上传也不会与旧产物中记录的值相同。
func nextGeneration() int64 {
	for {
		prev := lastGeneration.Load()
		next := time.Now().UnixNano()
		if next <= prev {
			next = prev + 1
		}
		if lastGeneration.CompareAndSwap(prev, next) {
			return next
		}
	}
}
