package providers

import "strings"

// ConfigString returns the trimmed string value for key from provider.Config or a fallback.
func ConfigString(cfg Provider, key, fallback string) string {
	if cfg.Config != nil {
		if raw, ok := cfg.Config[key]; ok {
			if val, ok := raw.(string); ok {
				if trimmed := strings.TrimSpace(val); trimmed != "" {
					return trimmed
				}
			}
		}
	}
	return fallback
}

const (
	ConfigUserAgentKey      = "user_agent"
	ConfigAcceptKey         = "accept"
	ConfigAcceptLanguageKey = "accept_language"
	ConfigRefererKey        = "referer"
	ConfigCacheControlKey   = "cache_control"
	ConfigSessionIDKey      = "session_id"
	ConfigCardCodeKey       = "card_code"
)

// The upstream rejects requests without a realistic mobile browser fingerprint.
const (
	defaultUserAgent      = "Mozilla/5.0 (Linux; Android 6.0; Nexus 5 Build/MRA58N) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Mobile Safari/537.36"
	defaultAccept         = "application/json, text/plain, */*"
	defaultAcceptLanguage = "ko-KR,ko;q=0.9,en;q=0.8"
	defaultReferer        = "https://m.naver.com/"
)

// Headers builds the request headers from a provider config, falling back to
// the built-in browser headers for anything not configured.
func Headers(cfg Provider) map[string]string {
	headers := map[string]string{
		"User-Agent":      ConfigString(cfg, ConfigUserAgentKey, defaultUserAgent),
		"Accept":          ConfigString(cfg, ConfigAcceptKey, defaultAccept),
		"Accept-Language": ConfigString(cfg, ConfigAcceptLanguageKey, defaultAcceptLanguage),
		"Referer":         ConfigString(cfg, ConfigRefererKey, defaultReferer),
	}
	if v := ConfigString(cfg, ConfigCacheControlKey, ""); v != "" {
		headers["Cache-Control"] = v
	}

	return headers
}
