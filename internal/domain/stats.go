package domain

import "time"

// UnknownClub labels players whose club could not be resolved
const UnknownClub = "Club inconnu"

// CategoryCount is the number of players registered in a category
type CategoryCount struct {
	CategoryID CategoryID `json:"categoryId"`
	Label      string     `json:"label"`
	Count      int        `json:"count"`
}

// ClubCount is the number of players from a club
type ClubCount struct {
	Club  string `json:"club"`
	Count int    `json:"count"`
}

// DailyCount is the number of registrations on a given ISO day
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// TournamentStats contains aggregated statistics over the player list
type TournamentStats struct {
	TotalPlayers         int             `json:"totalPlayers"`
	ByCategory           []CategoryCount `json:"byCategory"`
	ByClub               []ClubCount     `json:"byClub"`
	RegistrationTimeline []DailyCount    `json:"registrationTimeline"`
	LastUpdated          time.Time       `json:"lastUpdated"`
}

// StatsResponse is the stats view returned to clients
type StatsResponse struct {
	TournamentStats
	FromCache bool `json:"fromCache"`
}
