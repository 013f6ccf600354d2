package framecache

import "context"

// Close stops the preload scheduler, cancels outstanding tasks, persists
// the persistent tier index and releases the backend. Close is idempotent.
func (c *Cache) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.shutdown(context.Background(), true)
	c.logger.Info("framecache closed")
	return err
}
