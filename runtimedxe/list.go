// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package runtimedxe

// Link is embedded by elements of an intrusive doubly linked list.
type Link[T any] struct {
	prev   T
	next   T
	linked bool
}

func (l *Link[T]) link() *Link[T] {
	return l
}

// Linked reports whether the element is part of a list.
func (l *Link[T]) Linked() bool {
	return l.linked
}

type element[T any] interface {
	comparable
	link() *Link[T]
}

// List implements an intrusive doubly linked list, elements embed their
// Link therefore an element can be part of at most one list.
//
// The list is not safe for concurrent use.
type List[T element[T]] struct {
	first T
	last  T
	len   int
}

// Len returns the number of elements in the list.
func (l *List[T]) Len() int {
	return l.len
}

// Empty returns true if the list is empty.
func (l *List[T]) Empty() bool {
	return l.len == 0
}

// First returns the first element of the list, the zero value if the list
// is empty.
func (l *List[T]) First() T {
	return l.first
}

// Last returns the last element of the list, the zero value if the list is
// empty.
func (l *List[T]) Last() T {
	return l.last
}

// Next returns the element following e, the zero value for the last one.
func (l *List[T]) Next(e T) T {
	return e.link().next
}

// Prev returns the element preceding e, the zero value for the first one.
func (l *List[T]) Prev(e T) T {
	return e.link().prev
}

// Append inserts e at the end of the list.
func (l *List[T]) Append(e T) {
	var zero T

	n := e.link()

	if n.linked {
		panic("element already linked")
	}

	n.prev = l.last
	n.next = zero
	n.linked = true

	if l.last == zero {
		l.first = e
	} else {
		l.last.link().next = e
	}

	l.last = e
	l.len++
}

// Remove unlinks e from the list.
func (l *List[T]) Remove(e T) {
	var zero T

	n := e.link()

	if !n.linked {
		return
	}

	if n.prev == zero {
		l.first = n.next
	} else {
		n.prev.link().next = n.next
	}

	if n.next == zero {
		l.last = n.prev
	} else {
		n.next.link().prev = n.prev
	}

	*n = Link[T]{}
	l.len--
}

// Traverse calls fn for each element, first to last, stopping at the first
// error. The element being visited may be removed by fn.
func (l *List[T]) Traverse(fn func(T) error) error {
	var zero T

	for e := l.first; e != zero; {
		next := e.link().next

		if err := fn(e); err != nil {
			return err
		}

		e = next
	}

	return nil
}
