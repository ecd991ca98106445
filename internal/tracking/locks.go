package tracking

import "sync"

// keyedMutex 按 key 串行化的互斥锁集合。
// 同一辆车的重算串行执行，不同车辆互不阻塞；锁条目不回收，
// 车辆基数有限（车队规模），常驻内存可接受。
type keyedMutex struct {
	locks sync.Map // key -> *sync.Mutex
}

func (k *keyedMutex) Lock(key string) *sync.Mutex {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu
}
