package dexscreener

import (
	"strconv"
	"strings"
)

// The API has no global id for any feed, so identities are composed from the
// fields that distinguish one event from another for the same token.
// Chain ids are lower-cased; token addresses are kept as-is since Solana
// addresses are case sensitive.

func AdIdentity(ad Ad) string {
	return compose(ad.ChainID, ad.TokenAddress, ad.URL, ad.Type, ad.Date)
}

func ProfileIdentity(p Profile) string {
	return compose(p.ChainID, p.TokenAddress, p.URL)
}

// BoostIdentity includes the running total so that every new boost on a
// token yields a new identity.
func BoostIdentity(b Boost) string {
	total := ""
	if b.TotalAmount != nil {
		total = strconv.FormatFloat(*b.TotalAmount, 'f', -1, 64)
	}
	return compose(b.ChainID, b.TokenAddress, b.URL, total)
}

func OrderIdentity(chainID, tokenAddress string, o Order) string {
	return compose(chainID, tokenAddress, "", o.Type, strconv.FormatInt(int64(o.PaymentTimestamp), 10))
}

// compose joins chain, token and discriminators. When the chain or token is
// missing the record URL stands in for both. An empty result means no
// identity could be derived.
func compose(chainID, tokenAddress, url string, discriminators ...string) string {
	var head string
	switch {
	case chainID != "" && tokenAddress != "":
		head = strings.ToLower(chainID) + "|" + tokenAddress
	case url != "":
		head = "url|" + url
	default:
		return ""
	}
	if len(discriminators) == 0 {
		return head
	}
	return head + "|" + strings.Join(discriminators, "|")
}
