package domain

const (
	EventNameZoneCreated  = "zone.created"
	EventNameZoneFinished = "zone.finished"
)

type EventZoneCreated struct {
	ZoneID  string
	AdminID string
}

func (EventZoneCreated) Name() string { return EventNameZoneCreated }

type EventZoneFinished struct {
	ZoneID  string
	Summary []SummaryEntry
}

func (EventZoneFinished) Name() string { return EventNameZoneFinished }
