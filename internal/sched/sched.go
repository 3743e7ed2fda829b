// Package sched implements the pluggable scheduler core from spec.md
// §4.9: a common interface — init, enqueue, dequeue, pick_next, tick —
// over an ordered run queue keyed by a composite (metric, pid), with
// CFS and Stride as the two policies.
//
// There is no teacher analogue for a scheduler (iansmith-mazarin has
// none; it runs a single Go program under the host runtime's own
// scheduler). The O(log n) insert/erase/min requirement is satisfied
// with github.com/emirpasic/gods' red-black tree, the same ordered-tree
// package arctir-proctor pulls in (transitively, via go-git) elsewhere
// in this retrieval pack — promoted here to a direct, exercised
// dependency, since spec.md explicitly calls for a balanced BST and
// gods is the only one available across the pack.
package sched

import "github.com/emirpasic/gods/trees/redblacktree"

// Task is the minimal view of a schedulable entity every policy needs.
type Task interface {
	Pid() int
	TimeSlice() int
	SetTimeSlice(int)
	SetNeedResched(bool)
}

// Policy is spec.md §4.9's pluggable scheduler interface.
type Policy interface {
	Init(rq *RunQueue)
	Enqueue(rq *RunQueue, t Task)
	Dequeue(rq *RunQueue, t Task)
	PickNext(rq *RunQueue) (Task, bool)
	Tick(rq *RunQueue, t Task)
}

// RunQueue is an ordered run queue: a red-black tree keyed by the
// policy's composite key, plus a pid index so Dequeue/Tick can find a
// task's current node without a linear scan.
type RunQueue struct {
	tree     *redblacktree.Tree
	byPid    map[int]interface{} // pid -> key currently stored in tree
	firstRun map[int]bool        // pid -> has this task ever been enqueued
}

// NewRunQueue creates an empty run queue ordered by comparator.
func NewRunQueue(comparator func(a, b interface{}) int) *RunQueue {
	return &RunQueue{
		tree:     redblacktree.NewWith(comparator),
		byPid:    make(map[int]interface{}),
		firstRun: make(map[int]bool),
	}
}

func (rq *RunQueue) insert(key interface{}, pid int, t Task) {
	rq.tree.Put(key, t)
	rq.byPid[pid] = key
}

func (rq *RunQueue) removeByPid(pid int) {
	if key, ok := rq.byPid[pid]; ok {
		rq.tree.Remove(key)
		delete(rq.byPid, pid)
	}
}

// leftmost returns the task at the tree's minimum key, without removing
// it (spec.md §4.9 "pick_next returns the leftmost node... without
// removing it").
func (rq *RunQueue) leftmost() (Task, bool) {
	node := rq.tree.Left()
	if node == nil {
		return nil, false
	}
	return node.Value.(Task), true
}

// Len reports how many tasks are currently enqueued.
func (rq *RunQueue) Len() int { return rq.tree.Size() }
