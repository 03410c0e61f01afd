package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/forecast-gateway/internal/models"
)

// ErrCoordinateMissing is returned when latitude or longitude is absent.
var ErrCoordinateMissing = errors.New("is required")

// ErrCoordinateNotNumber is returned when a value is not a finite decimal number.
var ErrCoordinateNotNumber = errors.New("must be a number")

// ErrCoordinateOutOfRange is returned when a value is outside its geographic bounds.
var ErrCoordinateOutOfRange = errors.New("is out of range")

// FieldError names the query parameter that failed. Messages are safe to return
// in 400 INVALID_REQUEST responses.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	msg := e.Field + " " + e.Err.Error()
	if errors.Is(e.Err, ErrCoordinateOutOfRange) {
		msg += " (" + bounds[e.Field] + ")"
	}
	return msg
}

func (e *FieldError) Unwrap() error { return e.Err }

var bounds = map[string]string{
	"latitude":  "-90 to 90",
	"longitude": "-180 to 180",
}

var validate = validator.New()

// coordinateQuery holds the latitude/longitude query parameters.
type coordinateQuery struct {
	Latitude  *float64 `validate:"required,gte=-90,lte=90"`
	Longitude *float64 `validate:"required,gte=-180,lte=180"`
}

// ParseCoordinate parses and bounds-checks raw query values and returns the
// canonical coordinate. The first failing field is reported.
func ParseCoordinate(latRaw, lonRaw string) (models.Coordinate, error) {
	var q coordinateQuery
	var err error
	if q.Latitude, err = parseNumber("latitude", latRaw); err != nil {
		return models.Coordinate{}, err
	}
	if q.Longitude, err = parseNumber("longitude", lonRaw); err != nil {
		return models.Coordinate{}, err
	}

	if err := validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return models.Coordinate{}, err
		}
		fe := verrs[0]
		field := strings.ToLower(fe.StructField())
		if fe.Tag() == "required" {
			return models.Coordinate{}, &FieldError{Field: field, Err: ErrCoordinateMissing}
		}
		return models.Coordinate{}, &FieldError{Field: field, Err: ErrCoordinateOutOfRange}
	}
	return models.NewCoordinate(*q.Latitude, *q.Longitude), nil
}

// parseNumber returns nil for an empty value so the required rule reports it.
func parseNumber(field, raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, &FieldError{Field: field, Err: ErrCoordinateNotNumber}
	}
	return &v, nil
}
