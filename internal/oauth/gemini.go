package oauth

// GeminiClientID and GeminiClientSecret are the public installed-app OAuth2
// client credentials Gemini CLI's desktop flow uses to exchange a refresh
// token for an access token against Google's Code Assist API. They are not
// secret (installed-app clients can't keep a secret) and are the same pair
// every Gemini CLI installation uses.
const (
	GeminiClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	GeminiClientSecret = "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"
)
