package types

import "encoding/json"

// SigningKey is the tagged union decoded from a job's opaque "key" field.
// Its shape is platform-specific; exactly one of the embedded pointers is
// non-nil once resolved via ResolveSigningKey.
type SigningKey struct {
	Android *AndroidKey `json:"android,omitempty"`
	Apple   *AppleKey   `json:"apple,omitempty"`
	Windows *WindowsKey `json:"windows,omitempty"`
}

// AndroidKey holds the keystore credentials for a signed Android build.
type AndroidKey struct {
	Keystore         string `json:"keystore"`
	Alias            string `json:"alias"`
	KeystorePassword string `json:"keystorePassword"`
	KeyPassword      string `json:"keyPassword"`
}

// AppleKey holds the p12 identity and provisioning profile for a signed
// iOS/OSX build.
type AppleKey struct {
	P12          string `json:"p12"`
	Provisioning string `json:"provisioning"`
	Password     string `json:"password"`
}

// WindowsKey holds the PFX identity for a signed Windows build.
type WindowsKey struct {
	PFX        string `json:"pfx"`
	Thumbprint string `json:"thumbprint"`
	Publisher  string `json:"publisher"`
}

// Signed reports whether any signing material is present.
func (k *SigningKey) Signed() bool {
	if k == nil {
		return false
	}
	return k.Android != nil || k.Apple != nil || k.Windows != nil
}

// ResolveSigningKey decodes the platform-specific shape of a job's raw key
// JSON according to platform. An empty or null raw value yields an
// unsigned (nil) key, which is a valid variant (spec.md §3).
func ResolveSigningKey(raw json.RawMessage, platform Platform) (*SigningKey, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	k := &SigningKey{}
	switch {
	case platform == Android:
		ak := &AndroidKey{}
		if err := json.Unmarshal(raw, ak); err != nil {
			return nil, err
		}
		k.Android = ak
	case platform.IsApple():
		ap := &AppleKey{}
		if err := json.Unmarshal(raw, ap); err != nil {
			return nil, err
		}
		k.Apple = ap
	case platform == Windows:
		wk := &WindowsKey{}
		if err := json.Unmarshal(raw, wk); err != nil {
			return nil, err
		}
		k.Windows = wk
	default:
		// Ubuntu builds are never signed.
		return nil, nil
	}
	return k, nil
}
