package archive

// ensureOpen guarantees df.handle is a live, seekable file handle,
// opening it (creating the file/parents if absent) and evicting the
// least-recently-used open handle if the archive is already at its
// ActiveFileCacheSize. Caller must hold df.mu.
func (a *Archive) ensureOpen(df *DiskFile) error {
	if df.handle != nil {
		a.touch(df)
		return nil
	}

	if a.atCapacity() {
		a.evictOldest(df)
	}

	path := df.currentPath(a.root)

	f, err := a.openFile(path)
	if err != nil {
		if !a.evictOldest(df) {
			return err
		}
		f, err = a.openFile(path)
		if err != nil {
			return err
		}
	}

	df.handle = f
	a.touch(df)
	return nil
}

// touch marks df as most recently used, inserting it into the LRU list
// if it isn't already tracked.
func (a *Archive) touch(df *DiskFile) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if df.lruElem != nil {
		a.openLRU.MoveToFront(df.lruElem)
		return
	}
	df.lruElem = a.openLRU.PushFront(df)
	a.reportOpenCountLocked()
}

// untrack removes df from the LRU list without touching its handle,
// used at materialization after the caller has closed the handle itself.
func (a *Archive) untrack(df *DiskFile) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if df.lruElem != nil {
		a.openLRU.Remove(df.lruElem)
		df.lruElem = nil
		a.reportOpenCountLocked()
	}
}

// evictOldest closes and untracks the least-recently-used open handle
// other than exclude, making room under ActiveFileCacheSize. Reports
// whether it found anything to evict.
func (a *Archive) evictOldest(exclude *DiskFile) bool {
	a.mu.Lock()
	elem := a.openLRU.Back()
	for elem != nil && elem.Value.(*DiskFile) == exclude {
		elem = elem.Prev()
	}
	if elem == nil {
		a.mu.Unlock()
		return false
	}
	victim := elem.Value.(*DiskFile)
	a.openLRU.Remove(elem)
	victim.lruElem = nil
	a.reportOpenCountLocked()
	a.mu.Unlock()

	// victim.mu must be acquired without holding a.mu: a.mu protects the
	// map/list structure, victim.mu protects its own I/O state, and the
	// exclusion above guarantees victim != the DiskFile the caller is
	// already holding locked.
	victim.mu.Lock()
	if victim.handle != nil {
		victim.handle.Close()
		victim.handle = nil
	}
	victim.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RecordArchiveEviction()
	}
	return true
}

// reportOpenCountLocked reports the current number of tracked open
// DiskFile handles to metrics. Caller must hold a.mu.
func (a *Archive) reportOpenCountLocked() {
	if a.metrics != nil {
		a.metrics.SetOpenDiskFiles(a.openLRU.Len())
	}
}

func (a *Archive) atCapacity() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openLRU.Len() >= a.cacheSize
}
