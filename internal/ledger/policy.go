package ledger

import (
	"errors"
	"fmt"
)

// AssetPolicy configures one fungible asset. Assets must be registered with
// a positive supply cap before any mint targeting them is accepted; the
// core treats all assets uniformly, SER and COMP included.
type AssetPolicy struct {
	// Symbol is the asset identifier, e.g. "SER" or "COMP".
	Symbol string `json:"symbol" mapstructure:"symbol"`

	// MaxSupply is the hard cap on total issuance, in minor units.
	MaxSupply int64 `json:"max_supply" mapstructure:"max_supply"`

	// Decimals is the number of minor-unit decimal places, for display only;
	// the ledger itself always works in integer minor units.
	Decimals int `json:"decimals" mapstructure:"decimals"`

	// MintAuthority lists the actors allowed to mint, and to burn or
	// transfer on behalf of accounts they do not hold. Empty means
	// unrestricted.
	MintAuthority []string `json:"mint_authority,omitempty" mapstructure:"mint_authority"`
}

func (p AssetPolicy) validate() error {
	if p.Symbol == "" {
		return errors.New("asset policy needs a symbol")
	}
	if p.MaxSupply <= 0 {
		return fmt.Errorf("asset policy for %s needs a positive max_supply", p.Symbol)
	}
	if p.Decimals < 0 {
		return fmt.Errorf("asset policy for %s has negative decimals", p.Symbol)
	}
	return nil
}

// authorized reports whether actor may exercise mint authority under this
// policy. An empty MintAuthority list means no restriction.
func (p AssetPolicy) authorized(actor string) bool {
	if len(p.MintAuthority) == 0 {
		return true
	}
	for _, allowed := range p.MintAuthority {
		if actor == allowed {
			return true
		}
	}
	return false
}
