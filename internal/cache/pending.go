package cache

type opKind int

const (
	opUpdate opKind = iota + 1
	opDelete
)

// pendingOperation holds the local pre-image of a write while the store call is
// in flight. It is discarded when the write commits and applied when it fails.
type pendingOperation struct {
	kind   opKind
	id     string
	before Course   // update: the cached record, nil if it was not cached
	list   []Course // delete: the whole list, nil if a subscription owned it
}

func (r *CourseRepository) capture(kind opKind, id string) *pendingOperation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op := &pendingOperation{kind: kind, id: id}
	switch kind {
	case opUpdate:
		if i := indexOf(r.courses, id); i >= 0 {
			op.before = r.courses[i].clone()
		}
	case opDelete:
		if r.sub == nil {
			op.list = cloneCourses(r.courses)
		}
	}
	return op
}

// commit applies a successful write to the local list when no subscription owns
// it, and returns the resulting number of cached courses.
func (r *CourseRepository) commit(op *pendingOperation, patch Fields) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub == nil {
		switch op.kind {
		case opUpdate:
			if i := indexOf(r.courses, op.id); i >= 0 {
				updated := r.courses[i].merged(patch)
				updated[FieldID] = op.id
				r.courses[i] = updated
			}
		case opDelete:
			kept := make([]Course, 0, len(r.courses))
			for _, c := range r.courses {
				if c.ID() != op.id {
					kept = append(kept, c)
				}
			}
			r.courses = kept
		}
	}
	return len(r.courses)
}

// rollback restores the pre-image after a failed write. A subscription, if one
// has been opened meanwhile, stays the only source of truth.
func (r *CourseRepository) rollback(op *pendingOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return
	}
	switch op.kind {
	case opUpdate:
		if op.before == nil {
			return
		}
		if i := indexOf(r.courses, op.id); i >= 0 {
			r.courses[i] = op.before
		}
	case opDelete:
		if op.list != nil {
			r.courses = op.list
		}
	}
}
