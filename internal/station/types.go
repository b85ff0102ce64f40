// Package station builds and serves the per-market station/EPG snapshot,
// resolves each station's playable stream URI, and composes N markets'
// stations into one multiplexed lineup.
package station

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tunerbridge/tunerbridge/internal/geo"
)

// Station is one channel within a market: its identity, assigned channel
// number, and upcoming EPG listings.
type Station struct {
	ID               string    `json:"id"`
	CallSign         string    `json:"callSign"`
	Name             string    `json:"name"`
	Channel          string    `json:"channel"`
	Logo             string    `json:"logo,omitempty"`
	City             string    `json:"city,omitempty"`
	Listings         []Listing `json:"listings,omitempty"`
	Active           bool      `json:"active"`
	Remapped         bool      `json:"remapped,omitempty"`
	ChannelRemapped  string    `json:"channel_remapped,omitempty"`
	CallSignRemapped string    `json:"callSign_remapped,omitempty"`
}

// EffectiveChannel returns the remapped channel number when one has been
// assigned, falling back to the station's native channel otherwise.
func (s Station) EffectiveChannel() string {
	if s.ChannelRemapped != "" {
		return s.ChannelRemapped
	}
	return s.Channel
}

// EffectiveCallSign returns the remapped call sign when one has been
// assigned, falling back to the station's native call sign otherwise.
func (s Station) EffectiveCallSign() string {
	if s.CallSignRemapped != "" {
		return s.CallSignRemapped
	}
	return s.CallSign
}

// Listing is one EPG entry for a Station.
type Listing struct {
	ID              string     `json:"id"`
	ProgramID       string     `json:"programId,omitempty"`
	Title           string     `json:"title"`
	EpisodeTitle    string     `json:"episodeTitle,omitempty"`
	Description     string     `json:"description,omitempty"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         time.Time  `json:"endTime"`
	Genres          []string   `json:"genres,omitempty"`
	Season          int        `json:"season,omitempty"`
	Episode         int        `json:"episode,omitempty"`
	OriginalAirDate *time.Time `json:"originalAirDate,omitempty"`
	AirDate         *time.Time `json:"airDate,omitempty"`
	IsNew           bool       `json:"isNew,omitempty"`
	PreviouslyShown bool       `json:"previouslyShown,omitempty"`
	Rating          string     `json:"rating,omitempty"`
	IsMovie         bool       `json:"isMovie,omitempty"`
	VideoProperties []string   `json:"videoProperties,omitempty"`
	Directors       []string   `json:"directors,omitempty"`
	Actors          []string   `json:"actors,omitempty"`
	PreferredImage  string     `json:"preferredImage,omitempty"`
}

// Provider is the capability every caller in internal/tuner depends on:
// both a single-market Service and the Multiplexer implement it
// identically, so the HTTP server never needs to know which it is holding.
type Provider interface {
	Stations(ctx context.Context) ([]Station, error)
	StationStreamURI(ctx context.Context, stationID string) (string, error)
	Geo() geo.Market
	UUID() uuid.UUID
	Zipcodes() []string
	Services() []Provider
}
