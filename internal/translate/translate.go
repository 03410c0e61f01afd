// Package translate maps provider payloads onto the gateway's response schema.
package translate

import (
	"fmt"
	"time"

	"github.com/kjstillabower/forecast-gateway/internal/client"
	"github.com/kjstillabower/forecast-gateway/internal/models"
)

// Entry limits applied to list facets.
const (
	MaxHourlyEntries = 24
	MaxDailyEntries  = 7
)

// Translate returns the response for facet. The payload must carry the facet's section.
func Translate(p *client.OneCallResponse, facet models.Facet) (any, error) {
	if !p.Has(facet) {
		return nil, fmt.Errorf("translate: payload has no %s section", facet)
	}
	switch facet {
	case models.FacetCurrent:
		return Current(p.Current), nil
	case models.FacetHourly:
		return Hourly(p.Hourly), nil
	case models.FacetDaily:
		return Daily(p.Daily), nil
	}
	return nil, fmt.Errorf("translate: unknown facet %q", facet)
}

func Current(c *client.CurrentConditions) *models.CurrentWeatherResponse {
	return &models.CurrentWeatherResponse{
		Timestamp:   unixTime(c.Dt),
		Temperature: c.Temp,
		FeelsLike:   c.FeelsLike,
		Pressure:    c.Pressure,
		Humidity:    c.Humidity,
		DewPoint:    c.DewPoint,
		Clouds:      c.Clouds,
		Visibility:  c.Visibility,
		WindSpeed:   c.WindSpeed,
		WindDeg:     c.WindDeg,
		WindGust:    c.WindGust,
		Weather:     condition(c.Weather),
		DataSource:  models.DataSourceExternalAPI,
	}
}

func Hourly(hours []client.HourlyConditions) *models.HourlyWeatherResponse {
	if len(hours) > MaxHourlyEntries {
		hours = hours[:MaxHourlyEntries]
	}
	out := make([]models.HourlyForecast, 0, len(hours))
	for _, h := range hours {
		out = append(out, models.HourlyForecast{
			ForecastTime: unixTime(h.Dt),
			Temperature:  h.Temp,
			FeelsLike:    h.FeelsLike,
			Pressure:     h.Pressure,
			Humidity:     h.Humidity,
			DewPoint:     h.DewPoint,
			Clouds:       h.Clouds,
			Visibility:   h.Visibility,
			WindSpeed:    h.WindSpeed,
			WindDeg:      h.WindDeg,
			WindGust:     h.WindGust,
			Weather:      condition(h.Weather),
			Pop:          h.Pop,
			Rain1h:       oneHour(h.Rain),
			Snow1h:       oneHour(h.Snow),
		})
	}
	return &models.HourlyWeatherResponse{
		ForecastCount: len(out),
		Hourly:        out,
		DataSource:    models.DataSourceExternalAPI,
	}
}

func Daily(days []client.DailyConditions) *models.DailyWeatherResponse {
	if len(days) > MaxDailyEntries {
		days = days[:MaxDailyEntries]
	}
	out := make([]models.DailyForecast, 0, len(days))
	for _, d := range days {
		f := models.DailyForecast{
			ForecastDate: unixTime(d.Dt),
			Pressure:     d.Pressure,
			Humidity:     d.Humidity,
			DewPoint:     d.DewPoint,
			WindSpeed:    d.WindSpeed,
			WindDeg:      d.WindDeg,
			WindGust:     d.WindGust,
			Clouds:       d.Clouds,
			Pop:          d.Pop,
			Rain:         d.Rain,
			Snow:         d.Snow,
			Weather:      condition(d.Weather),
		}
		if d.Temp != nil {
			f.Temperature = models.DailyTemperature{
				Morning: d.Temp.Morn,
				Day:     d.Temp.Day,
				Evening: d.Temp.Eve,
				Night:   d.Temp.Night,
				Min:     d.Temp.Min,
				Max:     d.Temp.Max,
			}
		}
		if d.FeelsLike != nil {
			f.FeelsLike = models.DailyFeelsLike{
				Morning: d.FeelsLike.Morn,
				Day:     d.FeelsLike.Day,
				Evening: d.FeelsLike.Eve,
				Night:   d.FeelsLike.Night,
			}
		}
		out = append(out, f)
	}
	return &models.DailyWeatherResponse{
		ForecastCount: len(out),
		Daily:         out,
		DataSource:    models.DataSourceExternalAPI,
	}
}

// condition takes the first listed condition; the provider orders them by relevance.
func condition(ws []client.Weather) models.WeatherCondition {
	if len(ws) == 0 {
		return models.WeatherCondition{}
	}
	return models.WeatherCondition{Main: ws[0].Main, Description: ws[0].Description, Icon: ws[0].Icon}
}

func oneHour(p *client.Precipitation) *float64 {
	if p == nil {
		return nil
	}
	return p.OneHour
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
