package envelope

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	serverKeyInfo  = "tunesync server key v1"
	clientSaltTag  = "tunesync client salt v1:"
	argonTime      = 1
	argonMemoryKiB = 64 * 1024
	argonThreads   = 4
)

// DecodeKey parses a base64 (std or url, padded or not) 32 byte key
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if key, err := enc.DecodeString(s); err == nil {
			if len(key) != KeySize {
				return nil, ErrBadKey
			}
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: not base64", ErrBadKey)
}

func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DeriveServerKey derives the per user key the server hands out for ModeServer
func DeriveServerKey(master []byte, user string) ([]byte, error) {
	if len(master) == 0 {
		return nil, ErrNoKey
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, master, []byte(user), []byte(serverKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveClientKey stretches a passphrase with argon2id. The salt is bound to the user
// so every device of the same user derives the same key.
func DeriveClientKey(passphrase, user string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty passphrase", ErrNoKey)
	}
	salt := sha256.Sum256([]byte(clientSaltTag + user))
	return argon2.IDKey([]byte(passphrase), salt[:16], argonTime, argonMemoryKiB, argonThreads, KeySize), nil
}

// ServerKeyFunc fetches the caller's server held key
type ServerKeyFunc func(ctx context.Context) ([]byte, error)

type KeyringConfig struct {
	User       string
	SystemKey  []byte
	Passphrase string
	ServerKey  ServerKeyFunc
	CacheSize  int
}

// Keyring resolves keys per mode and caches derived or fetched keys
type Keyring struct {
	user       string
	systemKey  []byte
	passphrase string
	serverKey  ServerKeyFunc

	cache *lru.Cache[string, []byte]
	// serializes misses so a key is derived or fetched once
	missMu sync.Mutex
}

func NewKeyring(cfg KeyringConfig) (*Keyring, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 16
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	if cfg.SystemKey != nil && len(cfg.SystemKey) != KeySize {
		return nil, ErrBadKey
	}
	return &Keyring{
		user:       cfg.User,
		systemKey:  cfg.SystemKey,
		passphrase: cfg.Passphrase,
		serverKey:  cfg.ServerKey,
		cache:      cache,
	}, nil
}

// Key implements KeySource
func (k *Keyring) Key(ctx context.Context, mode Mode) ([]byte, error) {
	switch mode {
	case ModeNone:
		return nil, nil
	case ModeSystem:
		if k.systemKey == nil {
			return nil, fmt.Errorf("%w: no system key configured", ErrNoKey)
		}
		return k.systemKey, nil
	case ModeServer, ModeClient:
	default:
		return nil, ErrUnknownMode
	}

	cacheKey := mode.String() + ":" + k.user
	if key, ok := k.cache.Get(cacheKey); ok {
		return key, nil
	}

	k.missMu.Lock()
	defer k.missMu.Unlock()
	if key, ok := k.cache.Get(cacheKey); ok {
		return key, nil
	}

	var key []byte
	var err error
	if mode == ModeServer {
		if k.serverKey == nil {
			return nil, fmt.Errorf("%w: server keys unavailable", ErrNoKey)
		}
		key, err = k.serverKey(ctx)
		if err == nil && len(key) != KeySize {
			err = ErrBadKey
		}
	} else {
		key, err = DeriveClientKey(k.passphrase, k.user)
	}
	if err != nil {
		return nil, fmt.Errorf("%s key: %w", mode, err)
	}

	k.cache.Add(cacheKey, key)
	return key, nil
}

// Purge drops cached keys, forcing a refetch of server keys
func (k *Keyring) Purge() {
	k.cache.Purge()
}

var _ KeySource = (*Keyring)(nil)
