// Package format renders feed records as Telegram HTML notifications.
package format

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"dexwatch/models"
)

const (
	Placeholder    = "N/A"
	UnknownName    = "Unknown"
	divider        = "━━━━━━━━━━━━━━━━━"
	maxDescription = 200
	maxSocialLinks = 5
	dexBaseURL     = "https://dexscreener.com"
	chartURL       = "https://api.dexscreener.com/token-chart-img/%s/%s?w=800&h=450"
)

var kindEmoji = map[models.FeedKind]string{
	models.BannerAd:     "📢",
	models.TokenProfile: "📝",
	models.TokenBoost:   "🚀",
	models.PaidOrder:    "💰",
}

var socialEmoji = map[string]string{
	"twitter":  "𝕏",
	"telegram": "✈️",
	"discord":  "💬",
	"website":  "🌐",
	"reddit":   "🔴",
}

var orderTypeNames = map[string]string{
	"tokenProfile":      "Token Profile",
	"tokenAd":           "Token Ad",
	"communityTakeover": "Community Takeover",
	"trendingBarAd":     "Trending Bar Ad",
}

// Format renders rec. It never fails: missing fields are replaced with a
// placeholder and the notification is flagged as degraded.
func Format(rec models.Record) models.Notification {
	w := &writer{}

	w.line("<b>%s %s ALERT</b>", lo.ValueOr(kindEmoji, rec.Kind, "🔔"), rec.Kind.Label())
	w.blank()
	w.line(divider)

	name, symbol := displayName(rec)
	if symbol != "" {
		w.line("💎 <b>%s</b> (%s)", esc(name), esc(symbol))
	} else {
		w.line("💎 <b>%s</b>", esc(name))
	}

	chain := strings.ToUpper(rec.ChainID)
	if chain == "" {
		chain = Placeholder
		w.degraded = true
	}
	w.line("⛓️ Chain: <b>%s</b>", esc(chain))

	if rec.Token != nil {
		if rec.Token.PriceUSD > 0 {
			w.line("💰 Price: <b>$%s</b>", FormatPrice(rec.Token.PriceUSD))
		}
		if rec.Token.MarketCap > 0 {
			w.line("📊 Market Cap: <b>$%s</b>", FormatMarketCap(rec.Token.MarketCap))
		}
	}
	w.blank()

	switch rec.Kind {
	case models.BannerAd:
		writeAd(w, rec)
	case models.TokenProfile:
		writeProfile(w, rec)
	case models.TokenBoost:
		writeBoost(w, rec)
	case models.PaidOrder:
		writeOrder(w, rec)
	}

	if rec.Kind != models.TokenProfile && len(rec.Links) > 0 {
		writeSocials(w, rec.Links)
	}

	w.blank()
	w.line("📍 <b>Contract (tap to copy):</b>")
	if rec.TokenAddress != "" {
		w.line("<code>%s</code>", esc(rec.TokenAddress))
	} else {
		w.line("<code>%s</code>", Placeholder)
		w.degraded = true
	}
	w.blank()
	w.line("🔗 <a href=\"%s\">View on DexScreener</a>", esc(PageURL(rec)))
	w.line(divider)

	return models.Notification{
		Kind:     rec.Kind,
		Identity: rec.Identity,
		Text:     w.String(),
		ImageURL: ImageURL(rec),
		Degraded: w.degraded,
	}
}

func writeAd(w *writer, rec models.Record) {
	w.line("🏷️ Banner: <b>%s</b>", esc(w.orPlaceholder(rec.AdType)))
	if rec.DurationHours > 0 {
		w.line("⏱️ Duration: <b>%s hours</b>", strconv.FormatFloat(rec.DurationHours, 'f', -1, 64))
	}
	w.line("📅 Started: %s", esc(w.orPlaceholder(rec.AdDate)))
	if rec.Impressions > 0 {
		w.line("👁️ Impressions: %s", humanize.Comma(rec.Impressions))
	}
	if rec.URL != "" {
		w.line("📣 <a href=\"%s\">Advertiser link</a>", esc(rec.URL))
	}
}

func writeProfile(w *writer, rec models.Record) {
	if rec.Description != "" {
		w.line("📄 Description: %s", esc(truncate(rec.Description, maxDescription)))
	}
	if len(rec.Links) > 0 {
		writeSocials(w, rec.Links)
	}
}

func writeBoost(w *writer, rec models.Record) {
	if rec.Amount > 0 {
		w.line("⚡ New Boost: <b>%s</b>", formatAmount(rec.Amount))
	} else {
		w.line("⚡ New Boost: <b>%s</b>", Placeholder)
	}
	if rec.TotalAmount > 0 {
		w.line("📈 Total Boosts: <b>%s</b>", formatAmount(rec.TotalAmount))
	} else {
		w.line("📈 Total Boosts: <b>%s</b>", Placeholder)
		w.degraded = true
	}
	if rec.PreviousTotal > 0 && rec.TotalAmount > rec.PreviousTotal {
		w.line("📊 Previous: %s (+%s)", formatAmount(rec.PreviousTotal), formatAmount(rec.TotalAmount-rec.PreviousTotal))
	}
	if rec.Description != "" {
		w.blank()
		w.line("📄 Description: %s", esc(truncate(rec.Description, maxDescription)))
	}
}

func writeOrder(w *writer, rec models.Record) {
	w.line("📋 Order Type: <b>%s</b>", esc(OrderTypeName(w.orPlaceholder(rec.OrderType))))
	w.line("✅ Status: <b>%s</b>", esc(lo.Ternary(rec.OrderStatus != "", rec.OrderStatus, Placeholder)))
	if !rec.PaidAt.IsZero() {
		w.line("🕐 Paid: %s", rec.PaidAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	} else {
		w.line("🕐 Paid: %s", Placeholder)
	}
}

func writeSocials(w *writer, links []models.Link) {
	w.blank()
	w.line("🔗 <b>Socials:</b>")
	if len(links) > maxSocialLinks {
		links = links[:maxSocialLinks]
	}
	for _, link := range links {
		kind := strings.ToLower(link.Type)
		label := link.Label
		switch {
		case label != "":
		case link.Type != "":
			label = strings.ToUpper(link.Type[:1]) + link.Type[1:]
		default:
			label = "Link"
		}
		w.line("  %s <a href=\"%s\">%s</a>", lo.ValueOr(socialEmoji, kind, "🔗"), esc(link.URL), esc(label))
	}
}

// OrderTypeName returns a readable name for known order types and the
// raw value otherwise.
func OrderTypeName(orderType string) string {
	return lo.ValueOr(orderTypeNames, orderType, orderType)
}

// PageURL links to the DexScreener page for the record's token
func PageURL(rec models.Record) string {
	if rec.ChainID != "" && rec.TokenAddress != "" {
		return fmt.Sprintf("%s/%s/%s", dexBaseURL, strings.ToLower(rec.ChainID), rec.TokenAddress)
	}
	if rec.URL != "" {
		return rec.URL
	}
	return dexBaseURL
}

// ImageURL prefers the record's own image and falls back to a chart render
func ImageURL(rec models.Record) string {
	if rec.ImageURL != "" {
		return rec.ImageURL
	}
	if rec.ChainID != "" && rec.TokenAddress != "" {
		return fmt.Sprintf(chartURL, strings.ToLower(rec.ChainID), rec.TokenAddress)
	}
	return ""
}

// FormatPrice uses two decimals above one dollar and up to eight significant
// decimals below.
func FormatPrice(price float64) string {
	if price <= 0 {
		return Placeholder
	}
	if price >= 1 {
		return humanize.CommafWithDigits(price, 2)
	}
	s := strconv.FormatFloat(price, 'f', 8, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	if s == "0" {
		return strconv.FormatFloat(price, 'g', 3, 64)
	}
	return s
}

func FormatMarketCap(mc float64) string {
	if mc <= 0 {
		return Placeholder
	}
	return humanize.Comma(int64(mc))
}

func displayName(rec models.Record) (string, string) {
	var name, symbol string
	if rec.Token != nil {
		name, symbol = rec.Token.Name, rec.Token.Symbol
	}
	name = lo.CoalesceOrEmpty(name, rec.Name)
	symbol = lo.CoalesceOrEmpty(symbol, rec.Symbol)

	if name == "" {
		switch {
		case symbol != "":
			name, symbol = symbol, ""
		case len(rec.TokenAddress) > 8:
			name = rec.TokenAddress[:8] + "..."
		case rec.TokenAddress != "":
			name = rec.TokenAddress
		default:
			name = UnknownName
		}
	}
	return name, symbol
}

func formatAmount(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func esc(s string) string {
	return html.EscapeString(s)
}

type writer struct {
	lines    []string
	degraded bool
}

func (w *writer) line(format string, args ...any) {
	if len(args) == 0 {
		w.lines = append(w.lines, format)
		return
	}
	w.lines = append(w.lines, fmt.Sprintf(format, args...))
}

func (w *writer) blank() {
	w.lines = append(w.lines, "")
}

func (w *writer) orPlaceholder(s string) string {
	if s == "" {
		w.degraded = true
		return Placeholder
	}
	return s
}

func (w *writer) String() string {
	return strings.Join(w.lines, "\n")
}
