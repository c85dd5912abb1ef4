package chatroom

// dedupRegistry is the set of message ids applied to one conversation's
// timeline. It is owned by the session loop and never shared.
type dedupRegistry struct {
	ids map[int64]struct{}
}

func newDedupRegistry() *dedupRegistry {
	return &dedupRegistry{ids: make(map[int64]struct{})}
}

// add inserts id and reports whether it was new. Check and insert happen in
// one call so two deliveries of the same id cannot both pass.
func (r *dedupRegistry) add(id int64) bool {
	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

func (r *dedupRegistry) len() int {
	return len(r.ids)
}
