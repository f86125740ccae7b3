package p2p

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
)

// HeartbeatMessage is a signed validator liveness announcement.
type HeartbeatMessage struct {
	PubKey    []byte `json:"pubkey"`    // 33-byte compressed public key
	Height    uint64 `json:"height"`    // current chain height
	Timestamp int64  `json:"timestamp"` // unix seconds
	Signature []byte `json:"signature"` // Schnorr sig over SHA256(pubkey || height_le8 || timestamp_le8)
}

// HeartbeatSigningBytes returns the bytes that are signed/verified for a heartbeat message.
func HeartbeatSigningBytes(pubKey []byte, height uint64, timestamp int64) []byte {
	buf := make([]byte, len(pubKey)+8+8)
	copy(buf, pubKey)
	binary.LittleEndian.PutUint64(buf[len(pubKey):], height)
	binary.LittleEndian.PutUint64(buf[len(pubKey)+8:], uint64(timestamp))
	return buf
}

// VerifyHeartbeat checks that the heartbeat message has a valid Schnorr signature.
func VerifyHeartbeat(msg *HeartbeatMessage) bool {
	if len(msg.PubKey) != 33 || len(msg.Signature) == 0 {
		return false
	}
	data := HeartbeatSigningBytes(msg.PubKey, msg.Height, msg.Timestamp)
	hash := crypto.Hash(data)
	return crypto.VerifySignature(hash[:], msg.Signature, msg.PubKey)
}

// SetHeartbeatHandler registers a callback for verified incoming heartbeats.
func (n *Node) SetHeartbeatHandler(fn func(msg *HeartbeatMessage)) {
	n.heartbeatHandler = fn
}

// JoinHeartbeat joins the heartbeat GossipSub topic and starts reading.
func (n *Node) JoinHeartbeat() error {
	if n.pubsub == nil {
		return fmt.Errorf("p2p node not started")
	}
	if n.topicHeartbeat != nil {
		return nil // Already joined.
	}

	topic, err := n.pubsub.Join(TopicHeartbeat)
	if err != nil {
		return fmt.Errorf("join heartbeat topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return fmt.Errorf("subscribe heartbeat topic: %w", err)
	}
	n.topicHeartbeat = topic
	n.subHeartbeat = sub

	go n.heartbeatReadLoop()
	return nil
}

// LeaveHeartbeat unsubscribes from the heartbeat topic.
func (n *Node) LeaveHeartbeat() {
	if n.subHeartbeat != nil {
		n.subHeartbeat.Cancel()
		n.subHeartbeat = nil
	}
	if n.topicHeartbeat != nil {
		n.topicHeartbeat.Close()
		n.topicHeartbeat = nil
	}
}

// BroadcastHeartbeat publishes a heartbeat message to the GossipSub topic.
func (n *Node) BroadcastHeartbeat(msg *HeartbeatMessage) error {
	if n.topicHeartbeat == nil {
		return fmt.Errorf("heartbeat topic not joined")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	return n.topicHeartbeat.Publish(n.ctx, data)
}

func (n *Node) heartbeatReadLoop() {
	for {
		msg, err := n.subHeartbeat.Next(n.ctx)
		if err != nil {
			return // Context cancelled or subscription closed.
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue // Skip own messages.
		}

		var hb HeartbeatMessage
		if err := json.Unmarshal(msg.Data, &hb); err != nil {
			continue // Malformed message.
		}

		// Verify signature before forwarding.
		if !VerifyHeartbeat(&hb) {
			continue // Invalid signature.
		}

		if n.heartbeatHandler != nil {
			func() {
				defer func() { recover() }()
				n.heartbeatHandler(&hb)
			}()
		}
	}
}

