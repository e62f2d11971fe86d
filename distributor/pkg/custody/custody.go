// Package custody derives the keys that control distribution vaults.
//
// Each tree gets its own custody authority, derived from a service master seed and the tree
// address. The vault is the associated token account of that authority for the tree's mint,
// so only a holder of the master seed can move vault funds.
package custody

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

const (
	MinSeedLength = 32

	derivationDomain = "dispatch-vault"
)

type Config struct {
	// Seed is the master secret all custody authorities are derived from.
	Seed []byte

	// Delegate optionally signs funding transfers as an approved token delegate of
	// administrators.
	Delegate solana.PrivateKey
}

func (cfg *Config) Validate() error {
	if len(cfg.Seed) < MinSeedLength {
		return fmt.Errorf("seed must be at least %d bytes", MinSeedLength)
	}
	if cfg.Delegate != nil && len(cfg.Delegate) != ed25519.PrivateKeySize {
		return errors.New("delegate key is malformed")
	}
	return nil
}

// Custodian holds the master seed and remembers every authority it has derived so token
// services can look up signing keys by public key.
type Custodian struct {
	cfg Config

	mu   sync.RWMutex
	keys map[solana.PublicKey]solana.PrivateKey
}

func New(cfg Config) (*Custodian, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	seed := make([]byte, len(cfg.Seed))
	copy(seed, cfg.Seed)
	cfg.Seed = seed

	c := &Custodian{
		cfg:  cfg,
		keys: make(map[solana.PublicKey]solana.PrivateKey),
	}
	if cfg.Delegate != nil {
		c.keys[cfg.Delegate.PublicKey()] = cfg.Delegate
	}
	return c, nil
}

// AuthorityKey returns the custody key of treeAddress.
func (c *Custodian) AuthorityKey(treeAddress solana.PublicKey) solana.PrivateKey {
	h := sha256.New()
	h.Write(c.cfg.Seed)
	h.Write([]byte(derivationDomain))
	h.Write(treeAddress[:])
	key := solana.PrivateKey(ed25519.NewKeyFromSeed(h.Sum(nil)))

	c.mu.Lock()
	c.keys[key.PublicKey()] = key
	c.mu.Unlock()
	return key
}

// Authority returns the public custody authority of treeAddress.
func (c *Custodian) Authority(treeAddress solana.PublicKey) solana.PublicKey {
	return c.AuthorityKey(treeAddress).PublicKey()
}

// Vault returns the token account holding the funds of treeAddress.
func (c *Custodian) Vault(treeAddress, mint solana.PublicKey) (solana.PublicKey, error) {
	vault, _, err := solana.FindAssociatedTokenAddress(c.Authority(treeAddress), mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive vault address: %w", err)
	}
	return vault, nil
}

// Delegate returns the funding delegate, if one is configured.
func (c *Custodian) Delegate() (solana.PublicKey, bool) {
	if c.cfg.Delegate == nil {
		return solana.PublicKey{}, false
	}
	return c.cfg.Delegate.PublicKey(), true
}

// Key returns the private key for pub if it is a derived authority or the delegate.
func (c *Custodian) Key(pub solana.PublicKey) (solana.PrivateKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[pub]
	return key, ok
}
