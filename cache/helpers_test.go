package cache

import (
	"sync"
	"time"

	"github.com/hupe1980/framecache/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func key(src string, idx uint32) model.Key {
	return model.NewKey(src, idx)
}

func entry(k model.Key, size int, now time.Time) model.Entry {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(int(k.Index) + i)
	}
	return model.NewEntry(k, model.ContentThumbnail, payload, model.Dimensions{Width: 1920, Height: 1080}, now)
}
