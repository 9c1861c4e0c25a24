package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/99designs/keyring"
)

// KeyringConfig selects the OS credential store used by Keyring.
type KeyringConfig struct {
	ServiceName string
	// Backend restricts the keyring to one backend ("file", "keychain",
	// "secret-service", "wincred", ...). Empty lets the library pick.
	Backend string
	// Dir and Password configure the encrypted file backend.
	Dir      string
	Password string
}

// Keyring stores values in the operating system keychain. It is meant for
// credential slots, which should not sit in plain files.
type Keyring struct {
	ring keyring.Keyring
}

var _ Store = (*Keyring)(nil)

func NewKeyring(cfg KeyringConfig) (*Keyring, error) {
	kc := keyring.Config{
		ServiceName:      cfg.ServiceName,
		FileDir:          cfg.Dir,
		FilePasswordFunc: keyring.FixedStringPrompt(cfg.Password),
	}
	if kc.ServiceName == "" {
		kc.ServiceName = "agentcall"
	}
	if cfg.Backend != "" {
		kc.AllowedBackends = []keyring.BackendType{keyring.BackendType(cfg.Backend)}
	}

	ring, err := keyring.Open(kc)
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Keyring{ring: ring}, nil
}

func (k *Keyring) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	item, err := k.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading keyring item %q: %w", key, err)
	}
	return item.Data, nil
}

func (k *Keyring) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	err := k.ring.Set(keyring.Item{
		Key:   key,
		Data:  value,
		Label: "agentcall " + key,
	})
	if err != nil {
		return fmt.Errorf("writing keyring item %q: %w", key, err)
	}
	return nil
}

func (k *Keyring) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	err := k.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing keyring item %q: %w", key, err)
	}
	return nil
}
