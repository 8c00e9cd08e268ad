package auth

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	geminiAuthURL        = "https://accounts.google.com/o/oauth2/v2/auth"
	geminiTokenURL       = "https://oauth2.googleapis.com/token"
	geminiUserinfoURL    = "https://www.googleapis.com/oauth2/v1/userinfo?alt=json"
	geminiCodeAssistURL  = "https://cloudcode-pa.googleapis.com"
	geminiAPIBase        = "https://generativelanguage.googleapis.com/v1beta"
	geminiCallbackPort   = 8085
	geminiCallbackPath   = "/oauth2callback"
	geminiSourceRelative = "node_modules/@google/gemini-cli-core/dist/src/code_assist/oauth2.js"

	kimiTokenPath = "/api/oauth/token"
	kimiOAuthHost = "https://auth.kimi.com"
	kimiAPIBase   = "https://api.kimi.com/coding/v1"
	kimiClientID  = "17e5f671-d194-4dfb-9706-5516cb48c098"
	kimiUserAgent = "KimiCLI/1.12.0"

	qwenTokenURL  = "https://chat.qwen.ai/api/v1/oauth2/token"
	qwenAPIBase   = "https://portal.qwen.ai/v1"
	qwenClientID  = "f0304373b74a44d2b584a3fb70ca9e56"
	qwenUserAgent = "qwen-code/1.0.0"
)

// BridgeSpec describes the credential file a companion CLI maintains and how
// to interpret it.
type BridgeSpec struct {
	// Path is the companion file location; a leading ~ is expanded.
	Path string
	// ExpiryKey is the JSON key holding the absolute expiry instant.
	ExpiryKey string
	// ExpiryInMilliseconds is set when the companion stores epoch
	// milliseconds rather than seconds.
	ExpiryInMilliseconds bool
	// WriteBack mirrors refreshed tokens into the companion file so the CLI
	// and this process stay in step.
	WriteBack bool
}

// LoginSpec describes an interactive browser login flow for providers that
// support one.
type LoginSpec struct {
	AuthURL         string
	Scopes          []string
	CallbackPort    int
	CallbackPath    string
	ClientIDEnv     string
	ClientSecretEnv string
	// CLIBinary is a companion CLI whose bundled source embeds usable OAuth
	// client credentials when the environment does not provide them.
	CLIBinary string
	// CLISourcePaths are candidate locations of that source file, relative
	// to the resolved binary's parent directory.
	CLISourcePaths []string
	// DiscoveryURL is probed after login to learn the cloud project backing
	// the account. Optional.
	DiscoveryURL string
	// UserinfoURL is probed after login to record the account email.
	// Optional.
	UserinfoURL string
}

// Provider is one catalog entry. All provider-specific behavior in this
// package is driven by these fields rather than per-provider types.
type Provider struct {
	ID    string
	Label string

	TokenURL string
	// TokenURLEnv optionally relocates the token endpoint host, keeping
	// TokenURLPath. Used by companion CLIs that point at staging stacks.
	TokenURLEnv  string
	TokenURLPath string

	ClientID     string
	ClientSecret string

	// Skew is subtracted from every token lifetime at acquisition time.
	Skew time.Duration
	// DefaultExpiresIn is assumed when the token endpoint omits expires_in.
	DefaultExpiresIn int64

	DefaultAPIBase string
	// APIBaseEnvs are checked in order before the cached record and the
	// default.
	APIBaseEnvs []string
	// NormalizeResourceURL applies scheme and /v1 fixups to a resource_url
	// taken from the cached record.
	NormalizeResourceURL bool

	TokenDirEnv string
	AuthFileEnv string

	UserAgent     string
	DeviceHeaders bool

	Remediation string

	Bridge *BridgeSpec
	Login  *LoginSpec
}

var catalog = map[string]Provider{
	"gemini-cli": {
		ID:               "gemini-cli",
		Label:            "Gemini CLI",
		TokenURL:         geminiTokenURL,
		Skew:             300 * time.Second,
		DefaultExpiresIn: 3600,
		DefaultAPIBase:   geminiAPIBase,
		APIBaseEnvs:      []string{"GEMINI_CLI_API_BASE", "GOOGLE_GEMINI_CLI_API_BASE"},
		TokenDirEnv:      "GEMINI_CLI_TOKEN_DIR",
		AuthFileEnv:      "GEMINI_CLI_AUTH_FILE",
		Remediation:      "Run 'llmauth login gemini-cli' to sign in with your Google account",
		Login: &LoginSpec{
			AuthURL: geminiAuthURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/cloud-platform",
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			CallbackPort:    geminiCallbackPort,
			CallbackPath:    geminiCallbackPath,
			ClientIDEnv:     "GEMINI_CLI_OAUTH_CLIENT_ID",
			ClientSecretEnv: "GEMINI_CLI_OAUTH_CLIENT_SECRET",
			CLIBinary:       "gemini",
			CLISourcePaths: []string{
				geminiSourceRelative,
				"lib/node_modules/@google/gemini-cli/" + geminiSourceRelative,
			},
			DiscoveryURL: geminiCodeAssistURL + "/v1internal:loadCodeAssist",
			UserinfoURL:  geminiUserinfoURL,
		},
	},
	"kimi-code": {
		ID:               "kimi-code",
		Label:            "Kimi Code",
		TokenURL:         kimiOAuthHost + kimiTokenPath,
		TokenURLEnv:      "KIMI_CODE_OAUTH_HOST",
		TokenURLPath:     kimiTokenPath,
		ClientID:         kimiClientID,
		Skew:             60 * time.Second,
		DefaultExpiresIn: 900,
		DefaultAPIBase:   kimiAPIBase,
		APIBaseEnvs:      []string{"KIMI_CODE_API_BASE"},
		TokenDirEnv:      "KIMI_CODE_TOKEN_DIR",
		AuthFileEnv:      "KIMI_CODE_AUTH_FILE",
		UserAgent:        kimiUserAgent,
		DeviceHeaders:    true,
		Remediation:      "Run 'kimi login' to authenticate the Kimi CLI, then retry",
		Bridge: &BridgeSpec{
			Path:      "~/.kimi/credentials/kimi-code.json",
			ExpiryKey: "expires_at",
			WriteBack: true,
		},
	},
	"qwen-portal": {
		ID:                   "qwen-portal",
		Label:                "Qwen Portal",
		TokenURL:             qwenTokenURL,
		ClientID:             qwenClientID,
		Skew:                 60 * time.Second,
		DefaultExpiresIn:     3600,
		DefaultAPIBase:       qwenAPIBase,
		APIBaseEnvs:          []string{"QWEN_PORTAL_API_BASE"},
		NormalizeResourceURL: true,
		TokenDirEnv:          "QWEN_PORTAL_TOKEN_DIR",
		AuthFileEnv:          "QWEN_PORTAL_AUTH_FILE",
		UserAgent:            qwenUserAgent,
		Remediation:          "Run the Qwen Code CLI and complete its login, then retry",
		Bridge: &BridgeSpec{
			Path:                 "~/.qwen/oauth_creds.json",
			ExpiryKey:            "expiry_date",
			ExpiryInMilliseconds: true,
			WriteBack:            true,
		},
	},
}

// Providers returns the catalog's provider IDs in stable order.
func Providers() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Lookup returns a copy of the catalog entry for id. Callers may adjust the
// copy (tests point TokenURL at a local server) without affecting the
// catalog.
func Lookup(id string) (*Provider, error) {
	p, ok := catalog[id]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (known: %s)", id, strings.Join(Providers(), ", "))
	}
	if p.Bridge != nil {
		b := *p.Bridge
		p.Bridge = &b
	}
	if p.Login != nil {
		l := *p.Login
		p.Login = &l
	}
	return &p, nil
}

// TokenEndpoint resolves the token URL, honoring the host override
// environment variable when the provider defines one.
func (p *Provider) TokenEndpoint() string {
	if p.TokenURLEnv != "" {
		if host := os.Getenv(p.TokenURLEnv); host != "" {
			return strings.TrimSuffix(host, "/") + p.TokenURLPath
		}
	}
	return p.TokenURL
}

// AuthFileName is the record file name inside the token directory.
func (p *Provider) AuthFileName() string {
	if p.AuthFileEnv != "" {
		if name := os.Getenv(p.AuthFileEnv); name != "" {
			return name
		}
	}
	return "auth." + p.ID + ".json"
}

// normalizeResourceURL turns the bare host some token endpoints return in
// resource_url into a full base URL.
func normalizeResourceURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	if !strings.HasSuffix(u, "/v1") {
		u += "/v1"
	}
	return u
}
