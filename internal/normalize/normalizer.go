// Package normalize converts raw SDK payloads into the canonical scoring
// request. Both the SDK-nested schema and the flat/direct schema are
// accepted, including the Android variant carrying a sim block; everything
// downstream of this package sees a single shape.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/trustsignal/trustsignal/internal/common/errors"
	"github.com/trustsignal/trustsignal/internal/model"
)

var fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// flexTime accepts either an RFC3339 string or unix milliseconds, since the
// two SDK generations disagree on timestamp encoding.
type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		parsed, err := time.Parse(time.RFC3339, strings.Trim(s, `"`))
		if err != nil {
			return fmt.Errorf("invalid timestamp %s", s)
		}
		t.Time = parsed
		return nil
	}
	var millis int64
	if err := json.Unmarshal(data, &millis); err != nil {
		return fmt.Errorf("invalid timestamp %s", s)
	}
	t.Time = time.UnixMilli(millis).UTC()
	return nil
}

// nestedPayload is the SDK-nested schema.
type nestedPayload struct {
	UserID string `json:"user_id"`
	Device *struct {
		DeviceID     string `json:"device_id"`
		Fingerprint  string `json:"fingerprint"`
		Manufacturer string `json:"manufacturer"`
		Model        string `json:"model"`
		OSVersion    string `json:"os_version"`
		ScreenWidth  int    `json:"screen_width"`
		ScreenHeight int    `json:"screen_height"`
		Timezone     string `json:"timezone"`
		Locale       string `json:"locale"`
	} `json:"device"`
	Session *struct {
		SessionID string   `json:"session_id"`
		Timestamp flexTime `json:"timestamp"`
	} `json:"session"`
	Behavioral *struct {
		TypingDwellMs  []float64 `json:"typing_dwell_ms"`
		TypingFlightMs []float64 `json:"typing_flight_ms"`
		SwipeVelocity  float64   `json:"swipe_velocity"`
		SessionEntropy float64   `json:"session_entropy"`
	} `json:"behavioral"`
	SIM             *model.SIM             `json:"sim"`
	EnhancedSignals *model.EnhancedSignals `json:"enhanced_signals"`
}

// flatPayload is the flat/direct schema used by the lightweight collectors.
type flatPayload struct {
	UserID            string                 `json:"user_id"`
	DeviceID          string                 `json:"device_id"`
	DeviceFingerprint string                 `json:"device_fingerprint"`
	Manufacturer      string                 `json:"manufacturer"`
	Model             string                 `json:"model"`
	OSVersion         string                 `json:"os_version"`
	ScreenWidth       int                    `json:"screen_width"`
	ScreenHeight      int                    `json:"screen_height"`
	Timezone          string                 `json:"timezone"`
	Locale            string                 `json:"locale"`
	SessionID         string                 `json:"session_id"`
	Timestamp         flexTime               `json:"timestamp"`
	TypingDwellMs     []float64              `json:"typing_dwell_ms"`
	TypingFlightMs    []float64              `json:"typing_flight_ms"`
	SwipeVelocity     float64                `json:"swipe_velocity"`
	SessionEntropy    float64                `json:"session_entropy"`
	SimOperator       string                 `json:"sim_operator"`
	SimSerialHash     string                 `json:"sim_serial_hash"`
	NetworkType       string                 `json:"network_type"`
	EnhancedSignals   *model.EnhancedSignals `json:"enhanced_signals"`
}

// Normalize parses and validates a raw payload into a FingerprintRequest.
// It is a pure function: no I/O, no side effects. Validation failures
// return a MALFORMED_REQUEST error; nothing is silently defaulted except
// the device ID, which derives from the fingerprint hash when absent.
func Normalize(raw []byte, useCase model.UseCase) (*model.FingerprintRequest, error) {
	if !useCase.Valid() {
		return nil, apperrors.UnknownUseCase(string(useCase))
	}
	if len(raw) == 0 {
		return nil, apperrors.MalformedRequest("empty payload")
	}

	// Sniff the schema variant: a "device" object marks the nested form.
	var probe struct {
		Device json.RawMessage `json:"device"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, apperrors.MalformedRequest("invalid JSON: " + err.Error())
	}

	var req *model.FingerprintRequest
	var err error
	if len(probe.Device) > 0 && string(probe.Device) != "null" {
		req, err = parseNested(raw)
	} else {
		req, err = parseFlat(raw)
	}
	if err != nil {
		return nil, err
	}

	req.UseCase = useCase
	if err := validate(req); err != nil {
		return nil, err
	}

	if req.Device.DeviceID == "" {
		req.Device.DeviceID = req.Device.FingerprintHash[:32]
	}
	if req.Session.Timestamp.IsZero() {
		req.Session.Timestamp = time.Now().UTC()
	}

	return req, nil
}

func parseNested(raw []byte) (*model.FingerprintRequest, error) {
	var p nestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.MalformedRequest("invalid payload: " + err.Error())
	}
	if p.Device == nil {
		return nil, apperrors.MalformedRequest("device block is required")
	}

	req := &model.FingerprintRequest{
		UserID: p.UserID,
		Device: model.Device{
			DeviceID:        p.Device.DeviceID,
			FingerprintHash: p.Device.Fingerprint,
			Manufacturer:    p.Device.Manufacturer,
			Model:           p.Device.Model,
			OSVersion:       p.Device.OSVersion,
			ScreenWidth:     p.Device.ScreenWidth,
			ScreenHeight:    p.Device.ScreenHeight,
			Timezone:        p.Device.Timezone,
			Locale:          p.Device.Locale,
		},
		SIM:             p.SIM,
		EnhancedSignals: p.EnhancedSignals,
	}
	if p.Session != nil {
		req.Session = model.Session{
			SessionID: p.Session.SessionID,
			Timestamp: p.Session.Timestamp.Time,
		}
	}
	if p.Behavioral != nil {
		req.Behavioral = model.Behavioral{
			TypingDwellMs:  p.Behavioral.TypingDwellMs,
			TypingFlightMs: p.Behavioral.TypingFlightMs,
			SwipeVelocity:  p.Behavioral.SwipeVelocity,
			SessionEntropy: p.Behavioral.SessionEntropy,
		}
	}
	return req, nil
}

func parseFlat(raw []byte) (*model.FingerprintRequest, error) {
	var p flatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.MalformedRequest("invalid payload: " + err.Error())
	}

	req := &model.FingerprintRequest{
		UserID: p.UserID,
		Device: model.Device{
			DeviceID:        p.DeviceID,
			FingerprintHash: p.DeviceFingerprint,
			Manufacturer:    p.Manufacturer,
			Model:           p.Model,
			OSVersion:       p.OSVersion,
			ScreenWidth:     p.ScreenWidth,
			ScreenHeight:    p.ScreenHeight,
			Timezone:        p.Timezone,
			Locale:          p.Locale,
		},
		Session: model.Session{
			SessionID: p.SessionID,
			Timestamp: p.Timestamp.Time,
		},
		Behavioral: model.Behavioral{
			TypingDwellMs:  p.TypingDwellMs,
			TypingFlightMs: p.TypingFlightMs,
			SwipeVelocity:  p.SwipeVelocity,
			SessionEntropy: p.SessionEntropy,
		},
		EnhancedSignals: p.EnhancedSignals,
	}
	if p.SimSerialHash != "" || p.SimOperator != "" {
		req.SIM = &model.SIM{
			SimOperator:   p.SimOperator,
			SimSerialHash: p.SimSerialHash,
			NetworkType:   p.NetworkType,
		}
	}
	return req, nil
}

func validate(req *model.FingerprintRequest) error {
	if req.Device.FingerprintHash == "" {
		return apperrors.MalformedRequest("device fingerprint is required")
	}
	if !fingerprintPattern.MatchString(req.Device.FingerprintHash) {
		return apperrors.MalformedRequest("device fingerprint must be 64 lowercase hex characters")
	}
	if req.Device.Timezone == "" {
		return apperrors.MalformedRequest("device timezone is required")
	}
	if _, err := time.LoadLocation(req.Device.Timezone); err != nil {
		return apperrors.MalformedRequest(fmt.Sprintf("invalid IANA timezone %q", req.Device.Timezone))
	}
	if err := validateSamples("typing_dwell_ms", req.Behavioral.TypingDwellMs); err != nil {
		return err
	}
	if err := validateSamples("typing_flight_ms", req.Behavioral.TypingFlightMs); err != nil {
		return err
	}
	if bad(req.Behavioral.SwipeVelocity) {
		return apperrors.MalformedRequest("swipe_velocity must be a non-negative finite number")
	}
	if bad(req.Behavioral.SessionEntropy) {
		return apperrors.MalformedRequest("session_entropy must be a non-negative finite number")
	}
	if req.SIM != nil && req.SIM.SimSerialHash == "" {
		return apperrors.MalformedRequest("sim block requires sim_serial_hash")
	}
	return nil
}

func validateSamples(field string, samples []float64) error {
	for i, v := range samples {
		if bad(v) {
			return apperrors.MalformedRequest(fmt.Sprintf("%s[%d] must be a non-negative finite number", field, i))
		}
	}
	return nil
}

func bad(v float64) bool {
	return v < 0 || math.IsNaN(v) || math.IsInf(v, 0)
}
