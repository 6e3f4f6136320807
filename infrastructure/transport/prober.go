package transport

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
)

// ReachabilityProber decides online/offline by issuing a HEAD request
// against a cheap endpoint. Any response, even an error status below
// 500, proves the link is up; only transport failures mean offline.
type ReachabilityProber struct {
	client *resty.Client
	url    string
}

func NewReachabilityProber(url string, timeout time.Duration) *ReachabilityProber {
	return &ReachabilityProber{
		client: resty.New().SetTimeout(timeout),
		url:    url,
	}
}

func (p *ReachabilityProber) Online(ctx context.Context) bool {
	resp, err := p.client.R().SetContext(ctx).Head(p.url)
	if err != nil {
		return false
	}
	return resp.StatusCode() < 500
}
