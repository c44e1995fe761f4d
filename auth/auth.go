package auth

import (
	"errors"
	"fmt"

	"github.com/mqy/minichat/store"
)

var ErrNoCredentials = errors.New("auth: no credentials")

// Credentials of the signed in user. Token acquisition happens elsewhere.
type Credentials struct {
	Token    string
	Username string
}

func (c Credentials) Valid() bool {
	return c.Token != "" && c.Username != ""
}

type Client interface {
	// Credentials returns the current session credentials, or ErrNoCredentials.
	Credentials() (Credentials, error)
}

// StoreClient reads credentials persisted in the shared store, so every
// instance of the session sees a login or logout of any other.
type StoreClient struct {
	Store store.IStore
}

func (c *StoreClient) Credentials() (Credentials, error) {
	token, err := store.GetString(c.Store, store.KeyToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: read token: %w", err)
	}
	username, err := store.GetString(c.Store, store.KeyUsername)
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: read username: %w", err)
	}
	creds := Credentials{Token: token, Username: username}
	if !creds.Valid() {
		return Credentials{}, ErrNoCredentials
	}
	return creds, nil
}

// Save persists credentials for all instances.
func Save(s store.IStore, creds Credentials) error {
	if !creds.Valid() {
		return ErrNoCredentials
	}
	if err := s.Put(store.KeyToken, []byte(creds.Token)); err != nil {
		return err
	}
	return s.Put(store.KeyUsername, []byte(creds.Username))
}

// Clear removes the persisted session.
func Clear(s store.IStore) error {
	for _, key := range []string{store.KeyToken, store.KeyUsername} {
		if err := s.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
