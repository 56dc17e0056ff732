// Package wallet provides the signer used by the transaction pipeline.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// ErrRejected is returned when the signer declines to sign.
var ErrRejected = errors.New("signature request rejected")

// Wallet is a connected signer. PublicKey reports false when disconnected.
type Wallet interface {
	PublicKey() (solana.PublicKey, bool)
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
}

// EventKind is a connection state change.
type EventKind int

const (
	Connected EventKind = iota
	Disconnected
)

func (k EventKind) String() string {
	if k == Connected {
		return "connected"
	}
	return "disconnected"
}

// Event is emitted on connect and disconnect.
type Event struct {
	Kind      EventKind
	PublicKey solana.PublicKey
}

// Keypair is a local wallet backed by an in-memory private key.
type Keypair struct {
	mu        sync.RWMutex
	key       solana.PrivateKey
	connected bool
	subs      []chan Event
}

// NewKeypair wraps key. The wallet starts disconnected.
func NewKeypair(key solana.PrivateKey) *Keypair {
	return &Keypair{key: key}
}

// KeypairFromBase58 parses a base58 private key.
func KeypairFromBase58(b58 string) (*Keypair, error) {
	if b58 == "" {
		return nil, fmt.Errorf("private key not configured")
	}
	key, err := solana.PrivateKeyFromBase58(b58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeypair(key), nil
}

// KeypairFromFile loads a solana-keygen JSON keypair file.
func KeypairFromFile(path string) (*Keypair, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("keypair file: %w", err)
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("invalid keypair file: %w", err)
	}
	return NewKeypair(key), nil
}

// Subscribe returns a channel receiving connection events. The channel is
// buffered; slow subscribers miss events rather than block the wallet.
func (k *Keypair) Subscribe() <-chan Event {
	ch := make(chan Event, 4)
	k.mu.Lock()
	k.subs = append(k.subs, ch)
	k.mu.Unlock()
	return ch
}

// Connect marks the wallet connected.
func (k *Keypair) Connect() {
	k.setConnected(true)
}

// Disconnect marks the wallet disconnected.
func (k *Keypair) Disconnect() {
	k.setConnected(false)
}

func (k *Keypair) setConnected(v bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.connected == v {
		return
	}
	k.connected = v

	ev := Event{Kind: Disconnected, PublicKey: k.key.PublicKey()}
	if v {
		ev.Kind = Connected
	}
	for _, ch := range k.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// PublicKey implements Wallet.
func (k *Keypair) PublicKey() (solana.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.connected {
		return solana.PublicKey{}, false
	}
	return k.key.PublicKey(), true
}

// SignTransaction fills this key's signature slot. Slots of other signers
// are left as they are.
func (k *Keypair) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	pub, ok := k.PublicKey()
	if !ok {
		return nil, fmt.Errorf("wallet disconnected")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !tx.IsSigner(pub) {
		return nil, fmt.Errorf("wallet %s is not a signer of this transaction", pub)
	}

	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &k.key
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}

// ApproveFunc decides whether a transaction may be signed.
type ApproveFunc func(ctx context.Context, tx *solana.Transaction) bool

// Confirming asks for approval before delegating to the wrapped wallet.
type Confirming struct {
	Wallet
	approve ApproveFunc
}

// WithApproval wraps w so every signature needs approve to return true.
func WithApproval(w Wallet, approve ApproveFunc) *Confirming {
	return &Confirming{Wallet: w, approve: approve}
}

// SignTransaction implements Wallet. An approval cut short by ctx reports
// the context error rather than a rejection.
func (c *Confirming) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	if !c.approve(ctx, tx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrRejected
	}
	return c.Wallet.SignTransaction(ctx, tx)
}
