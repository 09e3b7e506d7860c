package provider

import "strings"

// SymbolMap maps user-facing crypto symbols (BTC, ETH, SOL) to provider ids.
type SymbolMap map[string]string

// Resolve looks up sym case-insensitively.
func (m SymbolMap) Resolve(providerName, sym string) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(sym))
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", &UnsupportedInstrumentError{Provider: providerName, Instrument: sym}
}
