package store

import (
	"fmt"

	"interleavedb/internal/interleave"
)

type color bool

const (
	black, red color = true, false
)

// redBlackTree keeps the encoded keys in byte-lexicographic order, which
// is exactly the interleaved layout order. Values live in the Store's
// map; the tree is the index.
//
// IMPORTANT: the tree does not provide thread safety, the Store
// serializes access.
type redBlackTree struct {
	root *redBlackNode
	size int
}

type redBlackNode struct {
	key    interleave.Key
	color  color
	left   *redBlackNode
	right  *redBlackNode
	parent *redBlackNode
}

// put inserts key into the tree. Re-inserting an existing key is a no-op.
func (t *redBlackTree) put(key interleave.Key) {
	if t.root == nil {
		t.root = &redBlackNode{key: key, color: black}
		t.size++
		return
	}

	curNode := t.root
	for {
		switch key.Compare(curNode.key) {
		case interleave.KeyEqual:
			return
		case interleave.KeyLessThan:
			if curNode.left == nil {
				curNode.left = &redBlackNode{key: key, color: red}
				curNode.left.parent = curNode
				t.insertCase1(curNode.left)
				t.size++
				return
			}
			curNode = curNode.left
		case interleave.KeyMoreThan:
			if curNode.right == nil {
				curNode.right = &redBlackNode{key: key, color: red}
				curNode.right.parent = curNode
				t.insertCase1(curNode.right)
				t.size++
				return
			}
			curNode = curNode.right
		}
	}
}

// get searches the node with the key, nil when not found
func (t *redBlackTree) get(key interleave.Key) *redBlackNode {
	curNode := t.root
	for curNode != nil {
		switch key.Compare(curNode.key) {
		case interleave.KeyEqual:
			return curNode
		case interleave.KeyLessThan:
			curNode = curNode.left
		case interleave.KeyMoreThan:
			curNode = curNode.right
		}
	}
	return nil
}

// remove the node with the key from the tree
func (t *redBlackTree) remove(key interleave.Key) {
	delNode := t.get(key)
	if delNode == nil {
		return
	}

	if delNode.left != nil && delNode.right != nil {
		replacementNode := delNode.left.maximumNode()
		delNode.key = replacementNode.key
		delNode = replacementNode
	}

	var childNode *redBlackNode
	if delNode.left == nil || delNode.right == nil {
		if delNode.right == nil {
			childNode = delNode.left
		} else {
			childNode = delNode.right
		}
		if delNode.color == black {
			delNode.color = nodeColor(childNode)
			t.deleteCase1(delNode)
		}
		t.replaceNode(delNode, childNode)
		if delNode.parent == nil && childNode != nil {
			childNode.color = black
		}
	}

	t.size--
}

func (t *redBlackTree) sizeof() int {
	return t.size
}

// ceiling finds the smallest node with key >= the input key, nil when the
// whole tree sorts below it. This is the scan entry point: seek to the
// lower range bound, then walk in order.
func (t *redBlackTree) ceiling(key interleave.Key) *redBlackNode {
	var foundNode *redBlackNode
	for curNode := t.root; curNode != nil; {
		switch curNode.key.Compare(key) {
		case interleave.KeyEqual:
			return curNode
		case interleave.KeyLessThan:
			curNode = curNode.right
		case interleave.KeyMoreThan:
			foundNode = curNode
			curNode = curNode.left
		}
	}
	return foundNode
}

// floor finds the largest node with key <= the input key, nil when the
// whole tree sorts above it.
func (t *redBlackTree) floor(key interleave.Key) *redBlackNode {
	var foundNode *redBlackNode
	for curNode := t.root; curNode != nil; {
		switch curNode.key.Compare(key) {
		case interleave.KeyEqual:
			return curNode
		case interleave.KeyLessThan:
			foundNode = curNode
			curNode = curNode.right
		case interleave.KeyMoreThan:
			curNode = curNode.left
		}
	}
	return foundNode
}

// keys returns all keys in-order
func (t *redBlackTree) keys() []interleave.Key {
	keys := make([]interleave.Key, 0, t.size)
	it := t.iterator()
	for it.next() {
		keys = append(keys, it.node.key)
	}
	return keys
}

// String implements Stringer interface
func (t *redBlackTree) String() string {
	str := "redBlackTree\n"
	if t.size != 0 {
		output(t.root, "", true, &str)
	}
	return str
}

func (n *redBlackNode) String() string {
	return fmt.Sprintf("%v", n.key)
}

func output(node *redBlackNode, prefix string, isTail bool, str *string) {
	if node.right != nil {
		newPrefix := prefix
		if isTail {
			newPrefix += "│   "
		} else {
			newPrefix += "    "
		}
		output(node.right, newPrefix, false, str)
	}

	*str += prefix
	if isTail {
		*str += "└── "
	} else {
		*str += "┌── "
	}

	*str += node.String() + "\n"
	if node.left != nil {
		newPrefix := prefix
		if isTail {
			newPrefix += "    "
		} else {
			newPrefix += "│   "
		}
		output(node.left, newPrefix, true, str)
	}
}

func (n *redBlackNode) grandparent() *redBlackNode {
	if n != nil && n.parent != nil {
		return n.parent.parent
	}
	return nil
}

func (n *redBlackNode) uncle() *redBlackNode {
	if n == nil || n.parent == nil || n.parent.parent == nil {
		return nil
	}
	return n.parent.sibling()
}

func (n *redBlackNode) sibling() *redBlackNode {
	if n == nil || n.parent == nil {
		return nil
	}
	if n == n.parent.left {
		return n.parent.right
	}
	return n.parent.left
}

func (t *redBlackTree) rotateLeft(node *redBlackNode) {
	right := node.right
	t.replaceNode(node, right)
	node.right = right.left
	if right.left != nil {
		right.left.parent = node
	}
	right.left = node
	node.parent = right
}

func (t *redBlackTree) rotateRight(node *redBlackNode) {
	left := node.left
	t.replaceNode(node, left)
	node.left = left.right
	if left.right != nil {
		left.right.parent = node
	}
	left.right = node
	node.parent = left
}

func (t *redBlackTree) replaceNode(old *redBlackNode, new *redBlackNode) {
	if old.parent == nil {
		t.root = new
	} else {
		if old == old.parent.left {
			old.parent.left = new
		} else {
			old.parent.right = new
		}
	}
	if new != nil {
		new.parent = old.parent
	}
}

func (t *redBlackTree) insertCase1(node *redBlackNode) {
	if node.parent == nil {
		node.color = black
	} else {
		t.insertCase2(node)
	}
}

func (t *redBlackTree) insertCase2(node *redBlackNode) {
	if nodeColor(node.parent) == black {
		return
	}
	t.insertCase3(node)
}

func (t *redBlackTree) insertCase3(node *redBlackNode) {
	uncleNode := node.uncle()
	if nodeColor(uncleNode) == red {
		node.parent.color = black
		uncleNode.color = black
		node.grandparent().color = red
		t.insertCase1(node.grandparent())
	} else {
		t.insertCase4(node)
	}
}

func (t *redBlackTree) insertCase4(node *redBlackNode) {
	grandparentNode := node.grandparent()
	if node == node.parent.right && node.parent == grandparentNode.left {
		t.rotateLeft(node.parent)
		node = node.left
	} else if node == node.parent.left && node.parent == grandparentNode.right {
		t.rotateRight(node.parent)
		node = node.right
	}
	t.insertCase5(node)
}

func (t *redBlackTree) insertCase5(node *redBlackNode) {
	node.parent.color = black
	grandparentNode := node.grandparent()
	grandparentNode.color = red
	if node == node.parent.left && node.parent == grandparentNode.left {
		t.rotateRight(grandparentNode)
	} else if node == node.parent.right && node.parent == grandparentNode.right {
		t.rotateLeft(grandparentNode)
	}
}

func (n *redBlackNode) maximumNode() *redBlackNode {
	if n == nil {
		return nil
	}
	var curNode *redBlackNode
	for curNode = n; curNode.right != nil; curNode = curNode.right {
	}
	return curNode
}

func (t *redBlackTree) deleteCase1(node *redBlackNode) {
	if node.parent == nil {
		return
	}
	t.deleteCase2(node)
}

func (t *redBlackTree) deleteCase2(node *redBlackNode) {
	siblingNode := node.sibling()
	if nodeColor(siblingNode) == red {
		node.parent.color = red
		siblingNode.color = black
		if node == node.parent.left {
			t.rotateLeft(node.parent)
		} else {
			t.rotateRight(node.parent)
		}
	}
	t.deleteCase3(node)
}

func (t *redBlackTree) deleteCase3(node *redBlackNode) {
	siblingNode := node.sibling()
	if nodeColor(node.parent) == black &&
		nodeColor(siblingNode) == black &&
		nodeColor(siblingNode.left) == black &&
		nodeColor(siblingNode.right) == black {
		siblingNode.color = red
		t.deleteCase1(node.parent)
	} else {
		t.deleteCase4(node)
	}
}

func (t *redBlackTree) deleteCase4(node *redBlackNode) {
	siblingNode := node.sibling()
	if nodeColor(node.parent) == red &&
		nodeColor(siblingNode) == black &&
		nodeColor(siblingNode.left) == black &&
		nodeColor(siblingNode.right) == black {
		siblingNode.color = red
		node.parent.color = black
	} else {
		t.deleteCase5(node)
	}
}

func (t *redBlackTree) deleteCase5(node *redBlackNode) {
	siblingNode := node.sibling()
	if node == node.parent.left &&
		nodeColor(siblingNode) == black &&
		nodeColor(siblingNode.left) == red &&
		nodeColor(siblingNode.right) == black {
		siblingNode.color = red
		siblingNode.left.color = black
		t.rotateRight(siblingNode)
	} else if node == node.parent.right &&
		nodeColor(siblingNode) == black &&
		nodeColor(siblingNode.right) == red &&
		nodeColor(siblingNode.left) == black {
		siblingNode.color = red
		siblingNode.right.color = black
		t.rotateLeft(siblingNode)
	}
	t.deleteCase6(node)
}

func (t *redBlackTree) deleteCase6(node *redBlackNode) {
	siblingNode := node.sibling()
	siblingNode.color = nodeColor(node.parent)
	node.parent.color = black
	if node == node.parent.left && nodeColor(siblingNode.right) == red {
		siblingNode.right.color = black
		t.rotateLeft(node.parent)
	} else if nodeColor(siblingNode.left) == red {
		siblingNode.left.color = black
		t.rotateRight(node.parent)
	}
}

func nodeColor(node *redBlackNode) color {
	if node == nil {
		return black
	}
	return node.color
}
