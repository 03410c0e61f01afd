package client

import (
	"time"

	"github.com/kjstillabower/forecast-gateway/internal/models"
)

// OneCallResponse is the provider's combined current/hourly/daily payload.
// FetchedAt is stamped locally when the payload arrives.
type OneCallResponse struct {
	Lat            float64            `json:"lat"`
	Lon            float64            `json:"lon"`
	Timezone       string             `json:"timezone"`
	TimezoneOffset int                `json:"timezone_offset"`
	Current        *CurrentConditions `json:"current,omitempty"`
	Hourly         []HourlyConditions `json:"hourly,omitempty"`
	Daily          []DailyConditions  `json:"daily,omitempty"`
	FetchedAt      time.Time          `json:"fetched_at"`
}

type Weather struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type CurrentConditions struct {
	Dt         int64     `json:"dt"`
	Temp       float64   `json:"temp"`
	FeelsLike  float64   `json:"feels_like"`
	Pressure   int       `json:"pressure"`
	Humidity   int       `json:"humidity"`
	DewPoint   float64   `json:"dew_point"`
	Clouds     int       `json:"clouds"`
	Visibility *float64  `json:"visibility,omitempty"`
	WindSpeed  float64   `json:"wind_speed"`
	WindDeg    int       `json:"wind_deg"`
	WindGust   *float64  `json:"wind_gust,omitempty"`
	Weather    []Weather `json:"weather"`
}

// Precipitation is the provider's {"1h": mm} object.
type Precipitation struct {
	OneHour *float64 `json:"1h,omitempty"`
}

type HourlyConditions struct {
	Dt         int64          `json:"dt"`
	Temp       float64        `json:"temp"`
	FeelsLike  float64        `json:"feels_like"`
	Pressure   int            `json:"pressure"`
	Humidity   int            `json:"humidity"`
	DewPoint   float64        `json:"dew_point"`
	Clouds     int            `json:"clouds"`
	Visibility *float64       `json:"visibility,omitempty"`
	WindSpeed  float64        `json:"wind_speed"`
	WindDeg    int            `json:"wind_deg"`
	WindGust   *float64       `json:"wind_gust,omitempty"`
	Weather    []Weather      `json:"weather"`
	Pop        *float64       `json:"pop,omitempty"`
	Rain       *Precipitation `json:"rain,omitempty"`
	Snow       *Precipitation `json:"snow,omitempty"`
}

type DailyTemperature struct {
	Morn  float64 `json:"morn"`
	Day   float64 `json:"day"`
	Eve   float64 `json:"eve"`
	Night float64 `json:"night"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

type DailyFeelsLike struct {
	Morn  float64 `json:"morn"`
	Day   float64 `json:"day"`
	Eve   float64 `json:"eve"`
	Night float64 `json:"night"`
}

type DailyConditions struct {
	Dt        int64             `json:"dt"`
	Temp      *DailyTemperature `json:"temp,omitempty"`
	FeelsLike *DailyFeelsLike   `json:"feels_like,omitempty"`
	Pressure  int               `json:"pressure"`
	Humidity  int               `json:"humidity"`
	DewPoint  float64           `json:"dew_point"`
	WindSpeed float64           `json:"wind_speed"`
	WindDeg   int               `json:"wind_deg"`
	WindGust  *float64          `json:"wind_gust,omitempty"`
	Clouds    int               `json:"clouds"`
	Pop       *float64          `json:"pop,omitempty"`
	Rain      *float64          `json:"rain,omitempty"`
	Snow      *float64          `json:"snow,omitempty"`
	Weather   []Weather         `json:"weather"`
}

// Has reports whether the payload carries a non-empty section for facet.
func (p *OneCallResponse) Has(facet models.Facet) bool {
	if p == nil {
		return false
	}
	switch facet {
	case models.FacetCurrent:
		return p.Current != nil
	case models.FacetHourly:
		return len(p.Hourly) > 0
	case models.FacetDaily:
		return len(p.Daily) > 0
	}
	return false
}

// Timestamp returns when the payload was fetched from the provider.
func (p *OneCallResponse) Timestamp() time.Time {
	if p == nil {
		return time.Time{}
	}
	return p.FetchedAt
}
