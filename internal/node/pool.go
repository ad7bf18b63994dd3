package node

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fankserver/lavapool/internal/errs"
	"github.com/sirupsen/logrus"
)

// Best selects the least-loaded connected node
const Best = "best"

// Pool owns the registered nodes and picks one for new players
type Pool struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	order    []string
	listener Listener
}

// NewPool creates an empty pool. listener receives callbacks from every node.
func NewPool(listener Listener) *Pool {
	return &Pool{
		nodes:    make(map[string]*Node),
		order:    make([]string, 0),
		listener: listener,
	}
}

// Add registers a node and starts connecting it. A node already registered
// under the same key is destroyed and replaced.
func (p *Pool) Add(opts Options) (*Node, error) {
	n, err := New(opts, p.listener)
	if err != nil {
		return nil, err
	}
	n.onDestroy = p.unregister

	if prev, ok := p.Get(n.Key()); ok {
		logrus.WithField("node", n.Key()).Info("Replacing registered node")
		prev.Destroy()
	}

	p.mu.Lock()
	p.nodes[n.Key()] = n
	p.order = append(p.order, n.Key())
	p.mu.Unlock()

	n.Connect()
	return n, nil
}

// Remove destroys and unregisters the node under key
func (p *Pool) Remove(key string) error {
	n, ok := p.Get(key)
	if !ok {
		return fmt.Errorf("%w: node %q", errs.ErrNotFound, key)
	}
	n.Destroy()
	return nil
}

func (p *Pool) unregister(n *Node) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.nodes[n.Key()] != n {
		return
	}
	delete(p.nodes, n.Key())
	for i, key := range p.order {
		if key == n.Key() {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Get returns the node under key
func (p *Pool) Get(key string) (*Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodes[key]
	return n, ok
}

// Len returns the number of registered nodes
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.nodes)
}

// Nodes returns the registered nodes in registration order
func (p *Pool) Nodes() []*Node {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Node, 0, len(p.order))
	for _, key := range p.order {
		out = append(out, p.nodes[key])
	}
	return out
}

// LeastLoaded returns connected nodes ordered by penalty; equal penalties keep
// registration order.
func (p *Pool) LeastLoaded() []*Node {
	connected := make([]*Node, 0)
	for _, n := range p.Nodes() {
		if n.Connected() {
			connected = append(connected, n)
		}
	}

	penalties := make(map[*Node]float64, len(connected))
	for _, n := range connected {
		penalties[n] = n.Penalty()
	}
	sort.SliceStable(connected, func(i, j int) bool {
		return penalties[connected[i]] < penalties[connected[j]]
	})
	return connected
}

// Select returns a node for key. Best (or "") picks the least-loaded connected
// node; a named key returns that node and starts a connect if it is down.
func (p *Pool) Select(key string) (*Node, error) {
	if p.Len() == 0 {
		return nil, fmt.Errorf("%w: pool is empty", errs.ErrNoNodesAvailable)
	}

	if key == "" || key == Best {
		nodes := p.LeastLoaded()
		if len(nodes) == 0 {
			return nil, fmt.Errorf("%w: no connected nodes", errs.ErrNoNodesAvailable)
		}
		return nodes[0], nil
	}

	n, ok := p.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: node %q", errs.ErrNotFound, key)
	}
	if !n.Connected() && n.State() != StateConnecting {
		n.Connect()
	}
	return n, nil
}

// Close destroys every node
func (p *Pool) Close() {
	for _, n := range p.Nodes() {
		n.Destroy()
	}
}
