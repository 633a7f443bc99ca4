// Package i18n holds the operator-facing message catalog. Every rejection
// names the offending serial number, branch or rule so that operators can
// act on it without reading logs.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. The key doubles as the English format string. Identifiers
// are passed as strings so the printer does not group their digits.
const (
	NoItems              = "transfer order has no items"
	UnknownOrderType     = "unknown order type %s"
	ItemNotFound         = "item %s not found"
	ItemWrongBranch      = "item %s is held by branch %s, not by source branch %s"
	ItemLocked           = "item %s has status %s and cannot be transferred"
	ItemAlreadyPending   = "item %s is already part of pending transfer order %s"
	ItemDuplicate        = "item %s is listed more than once"
	ItemKindMismatch     = "line %d does not match order type %s"
	InvalidQuantity      = "item type %s: quantity must be positive"
	StockNotFound        = "branch %s holds no stock of item type %s"
	InsufficientStock    = "item type %s: requested %d, only %d available at branch %s"
	LowStock             = "item type %s: only %d units will remain at branch %s"
	BranchNotFound       = "branch %s does not exist"
	BranchInactive       = "branch %s is not active"
	SameBranch           = "source and destination branch must differ"
	BranchPairNotAllowed = "transfers of type %s from %s to %s are not allowed"
	RuleTypeNotAllowed   = "rule %s does not allow order type %s"
	NotAssignedCenter    = "rule %s: %s is not the assigned maintenance center of %s"
	NotSameTree          = "rule %s: %s and %s do not share a parent branch"
	NotAuthorized        = "user %s may not act for branch %s"
	InvalidTransition    = "transfer order %s is %s and can no longer change"
	ItemNotInOrder       = "item %s is not part of transfer order %s"
	ItemAlreadyReceived  = "item %s was already received"
	ReceivedItemsBlock   = "transfer order %s already has received items and cannot be cancelled"
	ReasonRequired       = "a rejection reason is required"
	CancelNotAllowed     = "only the creator or an administrator may cancel transfer order %s"
)

var slovenian = map[string]string{
	NoItems:              "nalog za prenos nima postavk",
	UnknownOrderType:     "neznana vrsta naloga %s",
	ItemNotFound:         "predmet %s ne obstaja",
	ItemWrongBranch:      "predmet %s je v poslovalnici %s, ne v izvorni poslovalnici %s",
	ItemLocked:           "predmet %s ima status %s in ga ni mogoče prenesti",
	ItemAlreadyPending:   "predmet %s je že del odprtega naloga %s",
	ItemDuplicate:        "predmet %s je naveden večkrat",
	ItemKindMismatch:     "postavka %d ne ustreza vrsti naloga %s",
	InvalidQuantity:      "vrsta artikla %s: količina mora biti pozitivna",
	StockNotFound:        "poslovalnica %s nima zaloge artikla %s",
	InsufficientStock:    "vrsta artikla %s: zahtevano %d, na voljo le %d v poslovalnici %s",
	LowStock:             "vrsta artikla %s: v poslovalnici %[3]s bo ostalo le %[2]d kosov",
	BranchNotFound:       "poslovalnica %s ne obstaja",
	BranchInactive:       "poslovalnica %s ni aktivna",
	SameBranch:           "izvorna in ciljna poslovalnica morata biti različni",
	BranchPairNotAllowed: "prenosi vrste %s iz %s v %s niso dovoljeni",
	RuleTypeNotAllowed:   "pravilo %s ne dovoljuje vrste naloga %s",
	NotAssignedCenter:    "pravilo %s: %s ni dodeljeni servisni center za %s",
	NotSameTree:          "pravilo %s: %s in %s nimata skupne nadrejene poslovalnice",
	NotAuthorized:        "uporabnik %s ne sme delovati za poslovalnico %s",
	InvalidTransition:    "nalog %s ima status %s in ga ni več mogoče spremeniti",
	ItemNotInOrder:       "predmet %s ni del naloga %s",
	ItemAlreadyReceived:  "predmet %s je bil že prevzet",
	ReceivedItemsBlock:   "nalog %s ima že prevzete postavke in ga ni mogoče preklicati",
	ReasonRequired:       "razlog za zavrnitev je obvezen",
	CancelNotAllowed:     "nalog %s lahko prekliče le avtor ali skrbnik",
}

// Supported lists the locales with a full catalog.
var Supported = []language.Tag{language.English, language.Slovenian}

var matcher = language.NewMatcher(Supported)

// NewPrinter returns a printer for the given locale (BCP 47, e.g. "sl" or
// "en-GB"). Unknown or empty locales fall back to English.
func NewPrinter(locale string) *message.Printer {
	tag := language.English
	if locale != "" {
		if parsed, err := language.Parse(locale); err == nil {
			_, idx, _ := matcher.Match(parsed)
			tag = Supported[idx]
		}
	}
	return message.NewPrinter(tag, message.Catalog(newCatalog()))
}

func newCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key := range slovenian {
		b.SetString(language.English, key, key)
	}
	for key, msg := range slovenian {
		b.SetString(language.Slovenian, key, msg)
	}
	return b
}
