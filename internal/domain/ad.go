// Package domain holds the ad model shared by the planner, dispatcher and
// reconciler, plus the sentinel errors those components classify on.
package domain

import "time"

// MaxAlbumPhotos is the Telegram media-group ceiling. Ads with more photos
// are posted with the first ten only.
const MaxAlbumPhotos = 10

// ParseMode selects the caption markup dialect.
type ParseMode string

const (
	ModePlain    ParseMode = "plain"
	ModeMarkdown ParseMode = "markdown"
)

// Ad is a single rental listing as stored in the ads table.
//
// Lifecycle: pending (active, not posted) -> posted (active, posted,
// delivered_at/message_ids/channel set) -> inactive. Posting and
// reconciliation predicates are disjoint on this state, so the same row is
// never touched by both paths at once.
type Ad struct {
	ID       int64
	AdID     string
	City     string
	PostedAt time.Time

	// Set by MarkPosted; zero/empty until the ad has been delivered.
	DeliveredAt time.Time
	MessageIDs  []int64
	Channel     int64

	Photos          []string
	ConvertedPhotos []string

	HouseType    string
	Rooms        int
	Area         float64
	FloorCurrent int
	FloorTotal   int
	BedCapacity  int
	Duration     string
	District     string
	Microdistrict string
	Address      string
	Author       string
	Price        int64
	Deposit      bool
	DepositValue int
	Phone        string
	Whatsapp     bool
	TGUsername   string

	Fridge         bool
	WashingMachine bool
	Microwave      bool
	Dishwasher     bool
	Iron           bool
	TV             bool
	WiFi           bool
	Stove          bool
	Shower         bool
	SeparateToilet bool
	BedLinen       bool
	Towels         bool
	HygieneItems   bool
	Kitchen        bool
	Wardrobe       bool
	SleepingPlaces bool

	Family    bool
	Single    bool
	WithChild bool
	WithPets  bool
	MaxGuests int

	Description string
}
