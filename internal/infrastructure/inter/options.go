package inter

import (
	"net/http"
	"time"
)

type Option func(*Client)

func HTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func MaxElapsedTime(d time.Duration) Option {
	return func(c *Client) {
		c.maxElapsed = d
	}
}
