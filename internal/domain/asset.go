// Package domain defines core data structures used throughout the mirror bot.
package domain

import (
	"fmt"
	"strings"
)

const nativeAssetString = "native"

// Asset Stellar asset. The zero value is the native asset (XLM).
type Asset struct {
	// Code asset code, empty for native.
	Code string
	// Issuer issuing account, empty for native.
	Issuer string
}

// NativeAsset returns the native asset.
func NativeAsset() Asset {
	return Asset{}
}

// CreditAsset returns an issued asset.
func CreditAsset(code, issuer string) Asset {
	return Asset{Code: code, Issuer: issuer}
}

// IsNative reports whether the asset is the native asset.
func (a Asset) IsNative() bool {
	return a.Code == "" && a.Issuer == ""
}

// String returns "native" or "CODE:ISSUER".
func (a Asset) String() string {
	if a.IsNative() {
		return nativeAssetString
	}
	return fmt.Sprintf("%s:%s", a.Code, a.Issuer)
}

// MarshalText implements encoding.TextMarshaler so assets can key JSON maps.
func (a Asset) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Asset) UnmarshalText(text []byte) error {
	parsed, err := ParseAsset(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAsset parses "native" or "CODE:ISSUER".
func ParseAsset(s string) (Asset, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, nativeAssetString) || strings.EqualFold(s, "XLM") {
		return NativeAsset(), nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Asset{}, fmt.Errorf("invalid asset %q, expected native or CODE:ISSUER", s)
	}
	if len(parts[0]) > 12 {
		return Asset{}, fmt.Errorf("invalid asset code %q: longer than 12 characters", parts[0])
	}
	return CreditAsset(parts[0], parts[1]), nil
}
