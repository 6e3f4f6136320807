package transport

import "context"

// StaticTokenProvider serves a fixed bearer credential, typically read
// from the environment. Token refresh belongs to the external auth
// store, not to the engine.
type StaticTokenProvider struct {
	token string
}

func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(_ context.Context) (string, error) {
	return p.token, nil
}
