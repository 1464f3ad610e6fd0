package queue

import (
	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// Linked is an unbounded queue backed by a singly linked list.
type Linked[T any] struct {
	list *linkedlistqueue.Queue
}

func NewLinked[T any]() *Linked[T] {
	return &Linked[T]{list: linkedlistqueue.New()}
}

func (q *Linked[T]) Put(v T) {
	q.list.Enqueue(v)
}

func (q *Linked[T]) Get() (T, bool) {
	v, ok := q.list.Dequeue()
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

func (q *Linked[T]) Len() int {
	return q.list.Size()
}

func (q *Linked[T]) Drain(dst Queue[T], max int) int {
	return transfer[T](q, dst, max)
}

func (q *Linked[T]) Clear(f func(T)) {
	clearAll[T](q, f)
}
