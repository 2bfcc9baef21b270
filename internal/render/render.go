// Package render turns an ad into the channel caption.
//
// Rendering is pure: no I/O, no clock. The caption is capped at Telegram's
// media-group limit and user-supplied fields are escaped when Markdown is on.
package render

import (
	"fmt"
	"strings"

	"github.com/moonssword/tg-autoposting-bot/internal/domain"
)

// CaptionLimit is Telegram's caption ceiling for media groups.
const CaptionLimit = 1024

// Caption renders the album caption for an ad. An error means the ad data is
// unusable for posting (the ad is skipped this run and stays pending).
func Caption(ad *domain.Ad, mode domain.ParseMode) (string, error) {
	if strings.TrimSpace(ad.City) == "" {
		return "", fmt.Errorf("ad %d: city is empty", ad.ID)
	}
	if ad.Price <= 0 {
		return "", fmt.Errorf("ad %d: price %d is not positive", ad.ID, ad.Price)
	}

	esc := func(s string) string { return s }
	if mode == domain.ModeMarkdown {
		esc = escapeMarkdown
	}

	var b strings.Builder
	b.WriteString("🏠 ")
	b.WriteString(bold("Сдается", mode))
	b.WriteString(" ")
	b.WriteString(headline(ad))
	fmt.Fprintf(&b, ", %s м², %d/%d этаж", formatArea(ad.Area), ad.FloorCurrent, ad.FloorTotal)
	if ad.BedCapacity > 0 {
		fmt.Fprintf(&b, ", спальных мест - %d", ad.BedCapacity)
	}
	b.WriteString("\n")

	b.WriteString(bold("Адрес:", mode))
	fmt.Fprintf(&b, " г.%s", esc(ad.City))
	if ad.District != "" {
		fmt.Fprintf(&b, ", %s р-н", esc(ad.District))
	}
	if ad.Microdistrict != "" {
		fmt.Fprintf(&b, ", %s", esc(ad.Microdistrict))
	}
	if ad.Address != "" {
		fmt.Fprintf(&b, ", %s", esc(ad.Address))
	}
	b.WriteString("\n")

	b.WriteString(bold("Сдает:", mode))
	if ad.Author == "owner" {
		b.WriteString(" собственник\n")
	} else {
		b.WriteString(" посредник\n")
	}

	b.WriteString(bold("Цена:", mode))
	fmt.Fprintf(&b, " %d ₸\n", ad.Price)

	b.WriteString(bold("Депозит:", mode))
	if ad.Deposit {
		fmt.Fprintf(&b, " %d%%\n", ad.DepositValue)
	} else {
		b.WriteString(" нет\n")
	}

	if ad.Phone != "" {
		b.WriteString(bold("Телефон:", mode))
		b.WriteString(" ")
		b.WriteString(esc(ad.Phone))
		if mode == domain.ModeMarkdown {
			if ad.Whatsapp {
				fmt.Fprintf(&b, " [WhatsApp](https://api.whatsapp.com/send?phone=%s)", ad.Phone)
			}
			if ad.TGUsername != "" {
				fmt.Fprintf(&b, " [Telegram](https://t.me/%s)", ad.TGUsername)
			}
		}
		b.WriteString("\n")
	}

	if am := amenities(ad); am != "" {
		b.WriteString("🛋️ ")
		b.WriteString(bold("Удобства:", mode))
		b.WriteString(" ")
		b.WriteString(am)
		b.WriteString("\n")
	}
	if ru := rules(ad); ru != "" {
		b.WriteString("📜 ")
		b.WriteString(bold("Правила заселения:", mode))
		b.WriteString(" ")
		b.WriteString(ru)
		b.WriteString("\n")
	}
	if d := strings.TrimSpace(ad.Description); d != "" {
		b.WriteString("📝 ")
		b.WriteString(bold("Описание", mode))
		b.WriteString("\n")
		b.WriteString(esc(d))
	}

	return trimCaption(b.String()), nil
}

func headline(ad *domain.Ad) string {
	var kind string
	switch ad.HouseType {
	case "apartment":
		kind = fmt.Sprintf("%d-комн.квартира", ad.Rooms)
	case "room":
		kind = "комната"
	default:
		kind = "дом"
	}
	term := "посуточно"
	if ad.Duration == "long_time" {
		term = "на длительный срок"
	}
	return kind + " " + term
}

func amenities(ad *domain.Ad) string {
	items := []struct {
		ok   bool
		name string
	}{
		{ad.Fridge, "холодильник"},
		{ad.WashingMachine, "стиральная машина"},
		{ad.Microwave, "микроволновая печь"},
		{ad.Dishwasher, "посудомоечная машина"},
		{ad.Iron, "утюг"},
		{ad.TV, "телевизор"},
		{ad.WiFi, "Wi-Fi"},
		{ad.Stove, "плита"},
		{ad.Shower, "душ"},
		{ad.SeparateToilet, "раздельный санузел"},
		{ad.BedLinen, "постельное белье"},
		{ad.Towels, "полотенца"},
		{ad.HygieneItems, "средства гигиены"},
		{ad.Kitchen, "кухня"},
		{ad.Wardrobe, "хранение одежды"},
		{ad.SleepingPlaces, "спальные места"},
	}
	var out []string
	for _, it := range items {
		if it.ok {
			out = append(out, it.name)
		}
	}
	return strings.Join(out, ", ")
}

func rules(ad *domain.Ad) string {
	var out []string
	if ad.Family {
		out = append(out, "для семьи")
	}
	if ad.Single {
		out = append(out, "для одного")
	}
	if ad.WithChild {
		out = append(out, "можно с детьми")
	}
	if ad.WithPets {
		out = append(out, "можно с животными")
	}
	if ad.MaxGuests > 0 {
		out = append(out, fmt.Sprintf("макс. гостей: %d", ad.MaxGuests))
	}
	return strings.Join(out, ", ")
}

func bold(s string, mode domain.ParseMode) string {
	if mode == domain.ModeMarkdown {
		return "*" + s + "*"
	}
	return s
}

func formatArea(a float64) string {
	if a == float64(int64(a)) {
		return fmt.Sprintf("%d", int64(a))
	}
	return strings.TrimRight(fmt.Sprintf("%.1f", a), "0")
}

// escapeMarkdown neutralizes legacy-Markdown control characters in
// user-supplied text so a stray underscore can't break the whole caption.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"`", "\\`",
		"[", "\\[",
	)
	return r.Replace(s)
}

// trimCaption cuts the caption at the last space before the limit, mirroring
// how captions were truncated before: never mid-word, ellipsis appended.
func trimCaption(s string) string {
	runes := []rune(s)
	if len(runes) <= CaptionLimit {
		return s
	}
	head := runes[:CaptionLimit-3]
	if i := lastSpace(head); i > 0 {
		head = head[:i]
	}
	return string(head) + "..."
}

func lastSpace(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == ' ' || r[i] == '\n' {
			return i
		}
	}
	return -1
}
