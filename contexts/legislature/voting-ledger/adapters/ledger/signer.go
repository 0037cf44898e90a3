package ledgeradapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"strings"
	"sync"

	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	"legisledger/contexts/legislature/voting-ledger/ports"
)

var errNoSigningKey = errors.New("no signing key for voter address")

// Keyring resolves signers from secrets held in process memory. Secrets never
// leave the keyring: signers only expose the address and produced signatures.
type Keyring struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

func NewKeyring() *Keyring {
	return &Keyring{secrets: make(map[string][]byte)}
}

func (k *Keyring) Add(address string, secret []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.secrets[strings.ToLower(address)] = append([]byte(nil), secret...)
}

func (k *Keyring) ResolveSigner(_ context.Context, voter entities.Voter) (ports.Signer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	secret, ok := k.secrets[strings.ToLower(voter.Address)]
	if !ok {
		return nil, errNoSigningKey
	}
	return keySigner{address: voter.Address, secret: secret}, nil
}

type keySigner struct {
	address string
	secret  []byte
}

func (s keySigner) Address() string { return s.address }

func (s keySigner) Sign(_ context.Context, payload []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strings.ToLower(s.address)))
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// String hides the secret from fmt and slog.
func (s keySigner) String() string { return "signer(" + s.address + ")" }

var _ ports.SignerResolver = (*Keyring)(nil)
