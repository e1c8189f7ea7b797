package command

// Queue is a FIFO of pending commands for one robot. It is owned by the
// control loop and is not safe for concurrent use.
type Queue struct {
	items []Command
}

// Submit replaces everything pending with c. External commands always
// preempt whatever was queued before them.
func (q *Queue) Submit(c Command) {
	q.items = append(q.items[:0], c)
}

// Append adds c behind the pending commands.
func (q *Queue) Append(c Command) {
	q.items = append(q.items, c)
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (Command, bool) {
	if len(q.items) == 0 {
		return Command{}, false
	}
	return q.items[0], true
}

// Pop removes and returns the head.
func (q *Queue) Pop() (Command, bool) {
	if len(q.items) == 0 {
		return Command{}, false
	}
	c := q.items[0]
	q.items[0] = Command{}
	q.items = q.items[1:]
	return c, true
}

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Clear() {
	for i := range q.items {
		q.items[i] = Command{}
	}
	q.items = q.items[:0]
}

// Snapshot returns a copy of the pending commands in order.
func (q *Queue) Snapshot() []Command {
	out := make([]Command, len(q.items))
	copy(out, q.items)
	return out
}
