// Package list implements the intrusive doubly-linked list primitive the
// buddy allocator uses for its per-order free chunk lists. It follows the
// Linux-kernel list_head convention the original C mempool was built on:
// a Head is itself a Node whose next/prev point at the first and last
// real entries, and every payload structure embeds a Node rather than
// holding a pointer to one. Nodes carry no back-pointer to the list they
// are on; callers must know which list they are operating against.
package list

// Node is an intrusive list node. Embed it in a payload structure to make
// that structure a list element.
type Node struct {
	prev, next *Node
}

// Init initializes head as an empty list. A zero-value Node is NOT a
// valid empty head; Init must be called first.
func Init(head *Node) {
	head.prev = head
	head.next = head
}

// IsEmpty reports whether head has no entries.
func IsEmpty(head *Node) bool {
	return head.next == head
}

// AddTail inserts node as the new last entry of the list headed by head.
func AddTail(head, node *Node) {
	prev := head.prev
	node.prev = prev
	node.next = head
	prev.next = node
	head.prev = node
}

// Del unlinks node from whatever list it currently sits on. It does not
// clear node's own prev/next fields; a node that is reused must be
// re-initialized or re-inserted before further use.
func Del(node *Node) {
	prev, next := node.prev, node.next
	prev.next = next
	next.prev = prev
}

// First returns the first entry's node, or nil if head is empty.
func First(head *Node) *Node {
	if IsEmpty(head) {
		return nil
	}

	return head.next
}

// Next returns the node following n in traversal order, or nil when n is
// the list head (i.e., traversal has completed).
func Next(head, n *Node) *Node {
	if n.next == head {
		return nil
	}

	return n.next
}

// ForEach calls fn for every entry in the list headed by head, in order.
// fn must not mutate the list's linkage for nodes it has not yet visited.
func ForEach(head *Node, fn func(*Node)) {
	for n := First(head); n != nil; n = Next(head, n) {
		fn(n)
	}
}
