package network

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/Benedikt1992/blockchain-vaccination-records/metrics"
)

// Receiver is implemented by the node controller. Node dispatches raw wire
// payloads to it; all parsing, validation, and chain interaction happens
// on the controller side, keeping network ignorant of chain/consensus
// state (inversion of control, per the design notes).
type Receiver interface {
	ReceiveBlock(payload []byte)
	ReceiveTransaction(payload []byte)
	ReceiveJudgement(payload []byte)
	ReceiveSyncRequest(peerID string, payload []byte)
}

// MessageHandler is called for each received message.
type MessageHandler func(peer *Peer, msg Message)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// Node listens for incoming peers and manages outgoing connections over
// plain TCP.
type Node struct {
	nodeID     string
	listenAddr string
	receiver   Receiver
	maxPeers   int

	mu       sync.RWMutex
	peers    map[string]*Peer
	handlers map[MsgType]MessageHandler

	listener net.Listener
	stopCh   chan struct{}
}

// NewNode creates a Node that will listen on listenAddr and dispatch
// received messages to receiver.
func NewNode(nodeID, listenAddr string, receiver Receiver) *Node {
	n := &Node{
		nodeID:     nodeID,
		listenAddr: listenAddr,
		receiver:   receiver,
		maxPeers:   DefaultMaxPeers,
		peers:      make(map[string]*Peer),
		handlers:   make(map[MsgType]MessageHandler),
		stopCh:     make(chan struct{}),
	}
	n.Handle(MsgBlock, n.handleBlock)
	n.Handle(MsgTransaction, n.handleTransaction)
	n.Handle(MsgJudgement, n.handleJudgement)
	n.Handle(MsgSyncRequest, n.handleSyncRequest)
	return n
}

// Handle registers a handler for msg type.
func (n *Node) Handle(typ MsgType, h MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// Start begins accepting connections.
func (n *Node) Start() error {
	ln, err := net.Listen("tcp", n.listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Stop shuts down the node.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// AddPeer dials addr and registers the peer.
func (n *Node) AddPeer(id, addr string) error {
	peer, err := Connect(id, addr)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.peers[id] = peer
	peerCount := len(n.peers)
	n.mu.Unlock()
	metrics.PeerCount.Set(float64(peerCount))
	go n.readLoop(peer)

	hello, err := json.Marshal(map[string]string{"node_id": n.nodeID})
	if err != nil {
		log.Printf("[network] marshal hello: %v", err)
		return nil
	}
	if err := peer.Send(Message{Type: MsgHello, Payload: hello}); err != nil {
		log.Printf("[network] send hello to %s: %v", id, err)
	}
	return nil
}

// Peer returns the connected peer with the given id, or nil if not found.
func (n *Node) Peer(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// Peers returns every currently-connected peer ID, in no particular order.
func (n *Node) Peers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.peers))
	for id := range n.peers {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast sends msg to all connected peers, logging (not retrying) any
// send that times out or fails -- per spec §7's PeerUnreachable policy.
func (n *Node) Broadcast(msg Message) {
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			log.Printf("[network] broadcast to %s: %v", p.ID, err)
		}
	}
}

func (n *Node) BroadcastBlock(payload []byte) {
	n.Broadcast(Message{Type: MsgBlock, Payload: payload})
}

func (n *Node) BroadcastTransaction(payload []byte) {
	n.Broadcast(Message{Type: MsgTransaction, Payload: payload})
}

func (n *Node) BroadcastJudgement(payload []byte) {
	n.Broadcast(Message{Type: MsgJudgement, Payload: payload})
}

// SendSyncRequest sends a sync-request to a single peer, subject to
// Peer.Send's 5-second write deadline.
func (n *Node) SendSyncRequest(peerID string, payload []byte) error {
	p := n.Peer(peerID)
	if p == nil {
		return fmt.Errorf("unknown peer %s", peerID)
	}
	return p.Send(Message{Type: MsgSyncRequest, Payload: payload})
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				log.Printf("[network] accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		n.mu.RLock()
		peerCount := len(n.peers)
		n.mu.RUnlock()
		if peerCount >= n.maxPeers {
			log.Printf("[network] max peers (%d) reached, rejecting %s", n.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		n.mu.Lock()
		n.peers[peer.ID] = peer
		peerCount = len(n.peers)
		n.mu.Unlock()
		metrics.PeerCount.Set(float64(peerCount))
		go n.readLoop(peer)
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[network] readLoop panic from %s: %v", peer.ID, r)
		}
		peer.Close()
		n.mu.Lock()
		delete(n.peers, peer.ID)
		peerCount := len(n.peers)
		n.mu.Unlock()
		metrics.PeerCount.Set(float64(peerCount))
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		n.mu.RLock()
		h, ok := n.handlers[msg.Type]
		n.mu.RUnlock()
		if ok {
			h(peer, msg)
		}
	}
}

func (n *Node) handleBlock(_ *Peer, msg Message) { n.receiver.ReceiveBlock(msg.Payload) }

func (n *Node) handleTransaction(_ *Peer, msg Message) { n.receiver.ReceiveTransaction(msg.Payload) }

func (n *Node) handleJudgement(_ *Peer, msg Message) { n.receiver.ReceiveJudgement(msg.Payload) }

func (n *Node) handleSyncRequest(peer *Peer, msg Message) {
	n.receiver.ReceiveSyncRequest(peer.ID, msg.Payload)
}
