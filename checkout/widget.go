package checkout

import (
	"strings"
)

// WidgetConstructor is the vendor's global widget constructor.
type WidgetConstructor interface {
	New(cfg CheckoutConfig) (Widget, error)
}

// WidgetConstructorFunc adapts a function to WidgetConstructor.
type WidgetConstructorFunc func(cfg CheckoutConfig) (Widget, error)

func (f WidgetConstructorFunc) New(cfg CheckoutConfig) (Widget, error) { return f(cfg) }

// Widget is an instantiated vendor checkout. Open shows it to the user and later
// calls onResult once with the outcome.
type Widget interface {
	Open(onResult func(*CheckoutResult)) error
}

// WidgetCloser is implemented by widgets that can be torn down without firing
// any callback.
type WidgetCloser interface {
	Close()
}

// ConfigInput carries the validated values the checkout configuration is built from.
type ConfigInput struct {
	AmountInCents int64
	Reference     string
	PublicKey     string
	Signature     string
	SiteOrigin    string
	SuccessPath   string
	Environment   string
}

// Diagnostics records how the configuration was derived.
type Diagnostics struct {
	Environment     string
	DeclaredSandbox bool
	KeySandbox      bool
	KeySanitized    bool
	OriginalKey     string
}

// SignalsDisagree is true when the declared environment and the key point at different modes.
func (d Diagnostics) SignalsDisagree() bool { return d.DeclaredSandbox != d.KeySandbox }

// SanitizePublicKey trims the key and drops every character outside [A-Za-z0-9_].
// changed reports whether anything was removed.
func SanitizePublicKey(key string) (clean string, changed bool) {
	trimmed := strings.TrimSpace(key)
	var b strings.Builder
	b.Grow(len(trimmed))
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') {
			b.WriteByte(c)
		}
	}
	clean = b.String()
	return clean, clean != key
}

// IsTestKey reports whether the key belongs to the vendor's test mode.
func IsTestKey(key string) bool {
	return strings.Contains(key, TestKeyMarker)
}

// BuildCheckoutConfig assembles the widget configuration. Sandbox is forced on
// whenever the key carries the test marker, whatever the declared environment says.
func BuildCheckoutConfig(in ConfigInput) (CheckoutConfig, Diagnostics) {
	clean, changed := SanitizePublicKey(in.PublicKey)
	keySandbox := IsTestKey(in.PublicKey) || IsTestKey(clean)

	successPath := in.SuccessPath
	if successPath == "" {
		successPath = DefaultSuccessPath
	}

	cfg := CheckoutConfig{
		Currency:      CurrencyCOP,
		AmountInCents: in.AmountInCents,
		Reference:     in.Reference,
		PublicKey:     clean,
		RedirectURL:   strings.TrimSuffix(in.SiteOrigin, "/") + successPath,
		Signature:     in.Signature,
		Sandbox:       keySandbox,
	}
	diag := Diagnostics{
		Environment:     in.Environment,
		DeclaredSandbox: in.Environment != "production",
		KeySandbox:      keySandbox,
		KeySanitized:    changed,
		OriginalKey:     in.PublicKey,
	}
	return cfg, diag
}
