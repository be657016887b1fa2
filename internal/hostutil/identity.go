// Package hostutil builds the libp2p host a Kamilata node runs on, reusing
// a private key across restarts so a node's peer ID stays stable.
package hostutil

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

// persistentIdentity is the on-disk representation of a node's key pair.
type persistentIdentity struct {
	PrivKey []byte `json:"priv_key"`
	PeerID  string `json:"peer_id"`
}

// loadIdentity reads a previously saved key pair from path.
func loadIdentity(path string) (crypto.PrivKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var id persistentIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}
	priv, err := crypto.UnmarshalPrivateKey(id.PrivKey)
	if err != nil {
		return nil, fmt.Errorf("unmarshal private key: %w", err)
	}
	return priv, nil
}

// saveIdentity writes priv to path so the next run can reuse the same peer
// ID.
func saveIdentity(path string, priv crypto.PrivKey) error {
	privBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("derive peer id: %w", err)
	}
	data, err := json.Marshal(persistentIdentity{PrivKey: privBytes, PeerID: pid.String()})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// NewHost builds a libp2p host listening on listenAddrs, loading its
// identity from identityPath if present and generating (and persisting) a
// fresh Ed25519 key otherwise.
func NewHost(identityPath string, listenAddrs ...string) (host.Host, error) {
	priv, err := loadIdentity(identityPath)
	if err != nil {
		priv, _, err = crypto.GenerateEd25519Key(nil)
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		if err := saveIdentity(identityPath, priv); err != nil {
			return nil, fmt.Errorf("save identity: %w", err)
		}
	}

	opts := []libp2p.Option{libp2p.Identity(priv)}
	if len(listenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(listenAddrs...))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("start libp2p host: %w", err)
	}
	return h, nil
}
