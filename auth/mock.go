package auth

// MockClient returns fixed credentials.
type MockClient struct {
	Client
	Creds Credentials
}

func (c *MockClient) Credentials() (Credentials, error) {
	if !c.Creds.Valid() {
		return Credentials{}, ErrNoCredentials
	}
	return c.Creds, nil
}
