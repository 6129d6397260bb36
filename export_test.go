package earthbeat

func (p *Peer) WatcherCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.watchers)
}
