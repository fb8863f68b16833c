// Package model defines the canonical request and response types for the
// TrustSignal scoring pipeline. All inbound payload variants are normalized
// into these types before any evaluator runs.
package model

import "time"

// UseCase identifies the account-lifecycle event being scored.
type UseCase string

const (
	UseCaseScore         UseCase = "score"
	UseCaseLogin         UseCase = "login"
	UseCaseCheckout      UseCase = "checkout"
	UseCaseRegistration  UseCase = "registration"
	UseCasePasswordReset UseCase = "password_reset"
	UseCaseAccountChange UseCase = "account_change"
)

// Valid reports whether u is a recognized use case.
func (u UseCase) Valid() bool {
	switch u {
	case UseCaseScore, UseCaseLogin, UseCaseCheckout,
		UseCaseRegistration, UseCasePasswordReset, UseCaseAccountChange:
		return true
	}
	return false
}

// Device holds the normalized device identification fields.
type Device struct {
	DeviceID        string `json:"device_id"`
	FingerprintHash string `json:"fingerprint_hash"` // 64 lowercase hex chars (SHA-256)
	Manufacturer    string `json:"manufacturer,omitempty"`
	Model           string `json:"model,omitempty"`
	OSVersion       string `json:"os_version,omitempty"`
	ScreenWidth     int    `json:"screen_width,omitempty"`
	ScreenHeight    int    `json:"screen_height,omitempty"`
	Timezone        string `json:"timezone"`
	Locale          string `json:"locale,omitempty"`
}

// Session holds per-session identifiers.
type Session struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Behavioral holds the raw behavioral telemetry samples collected by the SDK.
// Dwell and flight sequences are ordered as captured.
type Behavioral struct {
	TypingDwellMs  []float64 `json:"typing_dwell_ms"`
	TypingFlightMs []float64 `json:"typing_flight_ms"`
	SwipeVelocity  float64   `json:"swipe_velocity,omitempty"`
	SessionEntropy float64   `json:"session_entropy,omitempty"`
}

// SIM holds the Android/iOS SIM block. Present only on mobile payloads.
type SIM struct {
	SimOperator   string `json:"sim_operator,omitempty"`
	SimSerialHash string `json:"sim_serial_hash"`
	NetworkType   string `json:"network_type,omitempty"`
}

// EnhancedSignals carries optional browser-side interaction telemetry used
// by the bot heuristics that drive adaptive challenge selection.
type EnhancedSignals struct {
	Mouse    *MouseSignals    `json:"mouse,omitempty"`
	Keyboard *KeyboardSignals `json:"keyboard,omitempty"`
	Page     *PageSignals     `json:"page,omitempty"`
	Form     *FormSignals     `json:"form,omitempty"`
	Privacy  *PrivacySignals  `json:"privacy,omitempty"`
}

// MouseSignals summarizes pointer movement within the session.
type MouseSignals struct {
	MoveCount     int     `json:"move_count"`
	AvgVelocity   float64 `json:"avg_velocity"`
	PathLinearity float64 `json:"path_linearity"` // 0..1, 1 = perfectly straight
}

// KeyboardSignals summarizes keyboard interaction within the session.
type KeyboardSignals struct {
	KeyCount      int  `json:"key_count"`
	PasteDetected bool `json:"paste_detected"`
}

// PageSignals summarizes page-level engagement.
type PageSignals struct {
	TimeOnPageMs int `json:"time_on_page_ms"`
	ScrollDepth  int `json:"scroll_depth"`
}

// FormSignals summarizes form fill behavior.
type FormSignals struct {
	FillTimeMs int  `json:"fill_time_ms"`
	Autofilled bool `json:"autofilled"`
	PasteOnly  bool `json:"paste_only"`
}

// PrivacySignals flags environment signals associated with automation.
type PrivacySignals struct {
	WebdriverPresent bool `json:"webdriver_present"`
	HeadlessHints    int  `json:"headless_hints"`
	CookiesDisabled  bool `json:"cookies_disabled"`
}

// FingerprintRequest is the canonical normalized scoring request produced by
// the normalizer. Downstream evaluators only ever see this shape.
type FingerprintRequest struct {
	UserID          string           `json:"user_id,omitempty"`
	Device          Device           `json:"device"`
	Session         Session          `json:"session"`
	Behavioral      Behavioral       `json:"behavioral"`
	SIM             *SIM             `json:"sim,omitempty"`
	UseCase         UseCase          `json:"use_case"`
	EnhancedSignals *EnhancedSignals `json:"enhanced_signals,omitempty"`
}

// ProfileKey returns the key used for baseline and geo-history lookups:
// the user ID when known, otherwise the device ID.
func (r *FingerprintRequest) ProfileKey() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.Device.DeviceID
}
