package assoc

// Tracked returns the number of listeners am cancels on destroy.
func (am *Model) Tracked() int { return len(am.subs) }
