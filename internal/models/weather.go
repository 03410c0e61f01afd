package models

import "time"

// DataSourceExternalAPI marks responses built from a provider payload.
const DataSourceExternalAPI = "external_api"

// WeatherCondition is the primary condition reported for a time slot.
type WeatherCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type CurrentWeatherResponse struct {
	Timestamp   time.Time        `json:"timestamp"`
	Temperature float64          `json:"temperature"`
	FeelsLike   float64          `json:"feels_like"`
	Pressure    int              `json:"pressure"`
	Humidity    int              `json:"humidity"`
	DewPoint    float64          `json:"dew_point"`
	Clouds      int              `json:"clouds"`
	Visibility  *float64         `json:"visibility,omitempty"`
	WindSpeed   float64          `json:"wind_speed"`
	WindDeg     int              `json:"wind_deg"`
	WindGust    *float64         `json:"wind_gust,omitempty"`
	Weather     WeatherCondition `json:"weather"`
	DataSource  string           `json:"data_source"`
}

type HourlyForecast struct {
	ForecastTime time.Time        `json:"forecast_time"`
	Temperature  float64          `json:"temperature"`
	FeelsLike    float64          `json:"feels_like"`
	Pressure     int              `json:"pressure"`
	Humidity     int              `json:"humidity"`
	DewPoint     float64          `json:"dew_point"`
	Clouds       int              `json:"clouds"`
	Visibility   *float64         `json:"visibility,omitempty"`
	WindSpeed    float64          `json:"wind_speed"`
	WindDeg      int              `json:"wind_deg"`
	WindGust     *float64         `json:"wind_gust,omitempty"`
	Weather      WeatherCondition `json:"weather"`
	Pop          *float64         `json:"pop,omitempty"`
	Rain1h       *float64         `json:"rain_1h,omitempty"`
	Snow1h       *float64         `json:"snow_1h,omitempty"`
}

type HourlyWeatherResponse struct {
	ForecastCount int              `json:"forecast_count"`
	Hourly        []HourlyForecast `json:"hourly"`
	DataSource    string           `json:"data_source"`
}

// DailyTemperature holds the day's temperatures by period plus the extremes.
type DailyTemperature struct {
	Morning float64 `json:"morning"`
	Day     float64 `json:"day"`
	Evening float64 `json:"evening"`
	Night   float64 `json:"night"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

type DailyFeelsLike struct {
	Morning float64 `json:"morning"`
	Day     float64 `json:"day"`
	Evening float64 `json:"evening"`
	Night   float64 `json:"night"`
}

type DailyForecast struct {
	ForecastDate time.Time        `json:"forecast_date"`
	Temperature  DailyTemperature `json:"temperature"`
	FeelsLike    DailyFeelsLike   `json:"feels_like"`
	Pressure     int              `json:"pressure"`
	Humidity     int              `json:"humidity"`
	DewPoint     float64          `json:"dew_point"`
	WindSpeed    float64          `json:"wind_speed"`
	WindDeg      int              `json:"wind_deg"`
	WindGust     *float64         `json:"wind_gust,omitempty"`
	Clouds       int              `json:"clouds"`
	Pop          *float64         `json:"pop,omitempty"`
	Rain         *float64         `json:"rain,omitempty"`
	Snow         *float64         `json:"snow,omitempty"`
	Weather      WeatherCondition `json:"weather"`
}

type DailyWeatherResponse struct {
	ForecastCount int             `json:"forecast_count"`
	Daily         []DailyForecast `json:"daily"`
	DataSource    string          `json:"data_source"`
}
