package service

import "sync"

// answerNotifier wakes long-polling waiters when a task's question is
// answered.
type answerNotifier struct {
	mu      sync.Mutex
	waiters map[int64]map[chan struct{}]struct{}
}

func newAnswerNotifier() *answerNotifier {
	return &answerNotifier{waiters: make(map[int64]map[chan struct{}]struct{})}
}

// subscribe registers interest in taskID. The returned func must be called
// to unregister.
func (n *answerNotifier) subscribe(taskID int64) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	set, ok := n.waiters[taskID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		n.waiters[taskID] = set
	}
	set[ch] = struct{}{}
	n.mu.Unlock()

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(set, ch)
		if len(set) == 0 {
			delete(n.waiters, taskID)
		}
	}
}

func (n *answerNotifier) publish(taskID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.waiters[taskID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
