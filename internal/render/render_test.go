package render

import (
	"strings"
	"testing"

	"github.com/moonssword/tg-autoposting-bot/internal/domain"
)

func sampleAd() *domain.Ad {
	return &domain.Ad{
		ID:           7,
		City:         "Астана",
		HouseType:    "apartment",
		Rooms:        2,
		Area:         45,
		FloorCurrent: 3,
		FloorTotal:   9,
		Duration:     "long_time",
		District:     "Есильский",
		Address:      "ул. Сауран 3",
		Author:       "owner",
		Price:        250000,
		Deposit:      true,
		DepositValue: 50,
		Phone:        "+77001234567",
		Whatsapp:     true,
		TGUsername:   "landlord",
		Fridge:       true,
		WiFi:         true,
		Family:       true,
		MaxGuests:    4,
		Description:  "Уютная квартира рядом с метро",
	}
}

func TestCaptionContents(t *testing.T) {
	t.Parallel()
	got, err := Caption(sampleAd(), domain.ModeMarkdown)
	if err != nil {
		t.Fatalf("Caption error: %v", err)
	}

	for _, want := range []string{
		"*Сдается* 2-комн.квартира на длительный срок, 45 м², 3/9 этаж",
		"*Адрес:* г.Астана, Есильский р-н, ул. Сауран 3",
		"*Сдает:* собственник",
		"*Цена:* 250000 ₸",
		"*Депозит:* 50%",
		"[WhatsApp](https://api.whatsapp.com/send?phone=+77001234567)",
		"[Telegram](https://t.me/landlord)",
		"холодильник, Wi-Fi",
		"для семьи, макс. гостей: 4",
		"Уютная квартира рядом с метро",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("caption missing %q\n---\n%s", want, got)
		}
	}
}

func TestCaptionPlainModeHasNoMarkup(t *testing.T) {
	t.Parallel()
	got, err := Caption(sampleAd(), domain.ModePlain)
	if err != nil {
		t.Fatalf("Caption error: %v", err)
	}
	if strings.Contains(got, "*") || strings.Contains(got, "](") {
		t.Fatalf("plain caption contains markup:\n%s", got)
	}
}

func TestCaptionEscapesUserText(t *testing.T) {
	t.Parallel()
	ad := sampleAd()
	ad.Address = "ул. Абая_25 [вход со двора]"
	got, err := Caption(ad, domain.ModeMarkdown)
	if err != nil {
		t.Fatalf("Caption error: %v", err)
	}
	if !strings.Contains(got, `Абая\_25 \[вход со двора]`) {
		t.Fatalf("address not escaped:\n%s", got)
	}
}

func TestCaptionHeadlineVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		houseType string
		duration  string
		want      string
	}{
		{name: "room daily", houseType: "room", duration: "daily", want: "комната посуточно"},
		{name: "house long", houseType: "house", duration: "long_time", want: "дом на длительный срок"},
		{name: "unknown type falls back to house", houseType: "yurt", duration: "daily", want: "дом посуточно"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ad := sampleAd()
			ad.HouseType = tt.houseType
			ad.Duration = tt.duration
			got, err := Caption(ad, domain.ModePlain)
			if err != nil {
				t.Fatalf("Caption error: %v", err)
			}
			if !strings.Contains(got, tt.want) {
				t.Fatalf("caption missing %q:\n%s", tt.want, got)
			}
		})
	}
}

func TestCaptionTrimsAtLimit(t *testing.T) {
	t.Parallel()
	ad := sampleAd()
	ad.Description = strings.Repeat("очень длинное описание ", 100)
	got, err := Caption(ad, domain.ModeMarkdown)
	if err != nil {
		t.Fatalf("Caption error: %v", err)
	}
	runes := []rune(got)
	if len(runes) > CaptionLimit {
		t.Fatalf("caption length %d exceeds limit %d", len(runes), CaptionLimit)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated caption should end with ellipsis, got %q", got[len(got)-12:])
	}
	// Never cut mid-word: the rune before the ellipsis must not be a space,
	// and the cut point must land on a word boundary.
	if strings.HasSuffix(strings.TrimSuffix(got, "..."), " ") {
		t.Fatal("trailing space left before ellipsis")
	}
}

func TestCaptionRejectsMalformedAd(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*domain.Ad)
	}{
		{name: "empty city", mutate: func(a *domain.Ad) { a.City = "" }},
		{name: "zero price", mutate: func(a *domain.Ad) { a.Price = 0 }},
		{name: "negative price", mutate: func(a *domain.Ad) { a.Price = -1 }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ad := sampleAd()
			tt.mutate(ad)
			if _, err := Caption(ad, domain.ModeMarkdown); err == nil {
				t.Fatal("expected error for malformed ad")
			}
		})
	}
}
