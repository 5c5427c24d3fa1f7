package models

// DaySchedule is one row of the weekly work-hours table. Times are "HH:MM".
// The lunch break carves a sub-window out of the working day: in-hours means
// [StartWork,LunchStart) or [LunchEnd,EndWork).
type DaySchedule struct {
	Enabled    bool   `json:"enabled"`
	StartWork  string `json:"startWork"`
	EndWork    string `json:"endWork"`
	LunchStart string `json:"lunchStart"`
	LunchEnd   string `json:"lunchEnd"`
}

// Sync modes for the backfill service.
const (
	SyncModeUnread = "unread"
	SyncModeAll    = "all"
)

type SyncSettings struct {
	MaxMessagesPerChat  int    `json:"maxMessagesPerChat"`
	MaxChatsToProcess   int    `json:"maxChatsToProcess"`
	MaxMessageAgeHours  int    `json:"maxMessageAgeHours"`
	DelayBetweenChatsMs int    `json:"delayBetweenChats"`
	MarkAsSeen          bool   `json:"markAsSeen"`
	CreateClosedForRead bool   `json:"createClosedForRead"`
	Mode                string `json:"mode"`
}

// Settings is the per-connection behavioral configuration edited in the
// admin UI. Schedule is indexed by weekday, 0=Sunday..6=Saturday.
type Settings struct {
	SectorID             int            `json:"sectorId"`
	Name                 string         `json:"name"`
	GreetingMessage      string         `json:"greetingMessage"`
	BusinessHoursEnabled bool           `json:"businessHoursEnabled"`
	Schedule             [7]DaySchedule `json:"schedule"`
	OutOfHoursMessage    string         `json:"outOfHoursMessage"`
	InactivityMinutes    int            `json:"inactivityMinutes"`
	InactivityMessage    string         `json:"inactivityMessage"`
	RatingEnabled        bool           `json:"ratingEnabled"`
	RatingMessage        string         `json:"ratingMessage"`
	FarewellMessage      string         `json:"farewellMessage"`
	IgnoreGroups         bool           `json:"ignoreGroups"`
	Sync                 SyncSettings   `json:"sync"`
}

type SettingsRepository interface {
	GetBySector(sectorID int) (*Settings, error)
}

// DefaultSyncSettings bounds backfill cost when the sector has no explicit
// tuning stored.
func DefaultSyncSettings() SyncSettings {
	return SyncSettings{
		MaxMessagesPerChat:  50,
		MaxChatsToProcess:   20,
		MaxMessageAgeHours:  24,
		DelayBetweenChatsMs: 400,
		MarkAsSeen:          true,
		Mode:                SyncModeUnread,
	}
}
