// Package confidential keeps card values sealed under ElGamal encryption so
// that only the resolution oracle can reveal them, one index at a time.
package confidential

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/suites"
)

var (
	ErrUnknownCommitment = errors.New("confidential: unknown commitment")
	ErrIndexOutOfRange   = errors.New("confidential: index out of range")
	ErrAlreadyClaimed    = errors.New("confidential: commitment already claimed")
	ErrNotOwner          = errors.New("confidential: commitment not claimed by session")
)

// ciphertext is an ElGamal pair (K, C) with K = kG and C = kP + M.
type ciphertext struct {
	K kyber.Point
	C kyber.Point
}

// sealedDeck is one sealed deck and the session allowed to open it. An
// owner of 0 means the deck has not been claimed yet.
type sealedDeck struct {
	values []ciphertext
	owner  uint64
}

// Vault seals decks of card values and opens individual indices on request.
// Each deck is opened only for the session that claimed it.
type Vault struct {
	suite  suites.Suite
	secret kyber.Scalar
	public kyber.Point

	mu    sync.RWMutex
	decks map[string]*sealedDeck
}

// NewVault generates a fresh Ed25519 key pair.
func NewVault() *Vault {
	suite := suites.MustFind("Ed25519")
	secret := suite.Scalar().Pick(suite.RandomStream())
	return &Vault{
		suite:  suite,
		secret: secret,
		public: suite.Point().Mul(secret, nil),
		decks:  make(map[string]*sealedDeck),
	}
}

// Seal encrypts values and returns the commitment handle that refers to them.
func (v *Vault) Seal(values []uint64) (string, error) {
	sealed := make([]ciphertext, len(values))
	for i, value := range values {
		ct, err := v.encrypt(value)
		if err != nil {
			return "", fmt.Errorf("seal index %d: %w", i, err)
		}
		sealed[i] = ct
	}

	id := uuid.NewString()
	v.mu.Lock()
	v.decks[id] = &sealedDeck{values: sealed}
	v.mu.Unlock()
	return id, nil
}

// Claim binds a sealed deck to session. A deck is claimed at most once.
func (v *Vault) Claim(commitment string, session uint64) error {
	if session == 0 {
		return fmt.Errorf("%w: session id 0", ErrNotOwner)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	d, ok := v.decks[commitment]
	switch {
	case !ok:
		return fmt.Errorf("%w: %s", ErrUnknownCommitment, commitment)
	case d.owner != 0:
		return fmt.Errorf("%w: %s", ErrAlreadyClaimed, commitment)
	}
	d.owner = session
	return nil
}

// Open decrypts the value stored at index of a sealed deck on behalf of
// session, which must have claimed it.
func (v *Vault) Open(session uint64, commitment string, index int) (uint64, error) {
	v.mu.RLock()
	d, ok := v.decks[commitment]
	var (
		owner  uint64
		sealed []ciphertext
	)
	if ok {
		owner, sealed = d.owner, d.values
	}
	v.mu.RUnlock()

	switch {
	case !ok:
		return 0, fmt.Errorf("%w: %s", ErrUnknownCommitment, commitment)
	case owner == 0 || owner != session:
		return 0, fmt.Errorf("%w: session %d", ErrNotOwner, session)
	case index < 0 || index >= len(sealed):
		return 0, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(sealed))
	}
	return v.decrypt(sealed[index])
}

// Size returns the number of sealed values behind a commitment.
func (v *Vault) Size(commitment string) (int, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d, ok := v.decks[commitment]
	if !ok {
		return 0, false
	}
	return len(d.values), true
}

func (v *Vault) encrypt(value uint64) (ciphertext, error) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)

	m := v.suite.Point().Embed(buf[:], v.suite.RandomStream())
	k := v.suite.Scalar().Pick(v.suite.RandomStream())
	K := v.suite.Point().Mul(k, nil)
	S := v.suite.Point().Mul(k, v.public)
	return ciphertext{K: K, C: S.Add(S, m)}, nil
}

func (v *Vault) decrypt(ct ciphertext) (uint64, error) {
	S := v.suite.Point().Mul(v.secret, ct.K)
	m := v.suite.Point().Sub(ct.C, S)
	data, err := m.Data()
	if err != nil {
		return 0, fmt.Errorf("decrypt: %w", err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("decrypt: unexpected payload length %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
