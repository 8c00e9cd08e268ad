// Package util provides helpers shared across the llmauth commands: proxy
// configuration for outbound token endpoint calls and log level control.
package util

import (
	"context"
	"net"
	"net/http"
	"net/url"

	"github.com/looplight/llmauth/internal/config"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// SetProxy configures the provided HTTP client with proxy settings from the
// configuration. It supports SOCKS5, HTTP, and HTTPS proxies and modifies
// the client's transport to route requests through the configured server.
func SetProxy(cfg *config.Config, httpClient *http.Client) *http.Client {
	if cfg == nil || cfg.ProxyURL == "" {
		return httpClient
	}
	var transport *http.Transport
	proxyURL, errParse := url.Parse(cfg.ProxyURL)
	if errParse != nil {
		log.Warnf("invalid proxy-url %q: %v", cfg.ProxyURL, errParse)
		return httpClient
	}
	switch proxyURL.Scheme {
	case "socks5":
		username := proxyURL.User.Username()
		password, _ := proxyURL.User.Password()
		proxyAuth := &proxy.Auth{User: username, Password: password}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", proxyURL.Host, proxyAuth, proxy.Direct)
		if errSOCKS5 != nil {
			log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
			return httpClient
		}
		transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}
	case "http", "https":
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	default:
		log.Warnf("unsupported proxy scheme %q, continuing without proxy", proxyURL.Scheme)
	}
	if transport != nil {
		httpClient.Transport = transport
	}
	return httpClient
}
