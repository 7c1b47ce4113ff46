// Generic red-black tree used as the ordered index structure.
//
// Rows are ordered maps from field name to value; the tree gives O(log n)
// field lookup while keeping fields iterable in name order. A single black
// sentinel node stands in for every NIL so rotations and fixups never
// branch on nil pointers.
//
// The four invariants: the root is black, the sentinel is black, a red node
// has no red child, and every path from a node to a descendant sentinel
// crosses the same number of black nodes.
package tabfile

import "iter"

type nodeColor uint8

const (
	red nodeColor = iota
	black
)

type rbNode[T any] struct {
	value  T
	color  nodeColor
	left   *rbNode[T]
	right  *rbNode[T]
	parent *rbNode[T]
}

// RBTree is an ordered collection with comparator-defined ordering.
// Equal elements (comparator returns 0) occupy a single slot: Upsert
// overwrites in place rather than inserting a duplicate.
type RBTree[T any] struct {
	root     *rbNode[T]
	sentinel *rbNode[T]
	cmp      func(a, b T) int
	size     int
}

// NewRBTree creates an empty tree ordered by cmp. The comparator returns a
// negative value, zero, or a positive value in the usual cmp.Compare sense.
func NewRBTree[T any](cmp func(a, b T) int) *RBTree[T] {
	s := &rbNode[T]{color: black}
	s.left, s.right, s.parent = s, s, s
	return &RBTree[T]{root: s, sentinel: s, cmp: cmp}
}

// Len returns the number of stored elements.
func (t *RBTree[T]) Len() int {
	return t.size
}

// Upsert inserts v, or overwrites the stored element comparing equal to v.
func (t *RBTree[T]) Upsert(v T) {
	parent := t.sentinel
	x := t.root
	for x != t.sentinel {
		parent = x
		c := t.cmp(v, x.value)
		if c == 0 {
			x.value = v
			return
		}
		if c < 0 {
			x = x.left
		} else {
			x = x.right
		}
	}

	z := &rbNode[T]{value: v, color: red, left: t.sentinel, right: t.sentinel, parent: parent}
	if parent == t.sentinel {
		t.root = z
	} else if t.cmp(v, parent.value) < 0 {
		parent.left = z
	} else {
		parent.right = z
	}
	t.size++
	t.insertFixup(z)
}

// Lookup returns the stored element comparing equal to v.
func (t *RBTree[T]) Lookup(v T) (T, bool) {
	x := t.root
	for x != t.sentinel {
		c := t.cmp(v, x.value)
		if c == 0 {
			return x.value, true
		}
		if c < 0 {
			x = x.left
		} else {
			x = x.right
		}
	}
	var zero T
	return zero, false
}

// Min returns the smallest stored element.
func (t *RBTree[T]) Min() (T, bool) {
	if t.root == t.sentinel {
		var zero T
		return zero, false
	}
	return t.minimum(t.root).value, true
}

// Delete removes the stored element comparing equal to v and reports
// whether an element was removed.
func (t *RBTree[T]) Delete(v T) bool {
	z := t.root
	for z != t.sentinel {
		c := t.cmp(v, z.value)
		if c == 0 {
			break
		}
		if c < 0 {
			z = z.left
		} else {
			z = z.right
		}
	}
	if z == t.sentinel {
		return false
	}

	y := z
	yColor := y.color
	var x *rbNode[T]
	switch {
	case z.left == t.sentinel:
		x = z.right
		t.transplant(z, z.right)
	case z.right == t.sentinel:
		x = z.left
		t.transplant(z, z.left)
	default:
		// Two children: promote the in-order successor.
		y = t.minimum(z.right)
		yColor = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	t.size--
	if yColor == black {
		t.deleteFixup(x)
	}
	return true
}

// All returns an in-order iterator over the stored elements. Each call
// walks from the root, so the sequence is restartable and unaffected by
// earlier partial iterations.
func (t *RBTree[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		// Iterative in-order walk; recursion would need an early-exit
		// plumbed through every level.
		var stack []*rbNode[T]
		x := t.root
		for x != t.sentinel || len(stack) > 0 {
			for x != t.sentinel {
				stack = append(stack, x)
				x = x.left
			}
			x = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(x.value) {
				return
			}
			x = x.right
		}
	}
}

func (t *RBTree[T]) minimum(x *rbNode[T]) *rbNode[T] {
	for x.left != t.sentinel {
		x = x.left
	}
	return x
}

// transplant replaces the subtree rooted at u with the subtree rooted at v.
func (t *RBTree[T]) transplant(u, v *rbNode[T]) {
	if u.parent == t.sentinel {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *RBTree[T]) leftRotate(x *rbNode[T]) {
	y := x.right
	x.right = y.left
	if y.left != t.sentinel {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == t.sentinel {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *RBTree[T]) rightRotate(x *rbNode[T]) {
	y := x.left
	x.left = y.right
	if y.right != t.sentinel {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == t.sentinel {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func (t *RBTree[T]) insertFixup(z *rbNode[T]) {
	for z.parent.color == red {
		if z.parent == z.parent.parent.left {
			uncle := z.parent.parent.right
			if uncle.color == red {
				z.parent.color = black
				uncle.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.leftRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rightRotate(z.parent.parent)
			}
		} else {
			uncle := z.parent.parent.left
			if uncle.color == red {
				z.parent.color = black
				uncle.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rightRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.leftRotate(z.parent.parent)
			}
		}
	}
	t.root.color = black
}

func (t *RBTree[T]) deleteFixup(x *rbNode[T]) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			sibling := x.parent.right
			if sibling.color == red {
				sibling.color = black
				x.parent.color = red
				t.leftRotate(x.parent)
				sibling = x.parent.right
			}
			if sibling.left.color == black && sibling.right.color == black {
				sibling.color = red
				x = x.parent
			} else {
				if sibling.right.color == black {
					sibling.left.color = black
					sibling.color = red
					t.rightRotate(sibling)
					sibling = x.parent.right
				}
				sibling.color = x.parent.color
				x.parent.color = black
				sibling.right.color = black
				t.leftRotate(x.parent)
				x = t.root
			}
		} else {
			sibling := x.parent.left
			if sibling.color == red {
				sibling.color = black
				x.parent.color = red
				t.rightRotate(x.parent)
				sibling = x.parent.left
			}
			if sibling.right.color == black && sibling.left.color == black {
				sibling.color = red
				x = x.parent
			} else {
				if sibling.left.color == black {
					sibling.right.color = black
					sibling.color = red
					t.leftRotate(sibling)
					sibling = x.parent.left
				}
				sibling.color = x.parent.color
				x.parent.color = black
				sibling.left.color = black
				t.rightRotate(x.parent)
				x = t.root
			}
		}
	}
	x.color = black
}
