package model

// Action is the recommended handling for the scored request.
type Action string

const (
	ActionAllow         Action = "allow"
	ActionSoftChallenge Action = "soft_challenge"
	ActionHardChallenge Action = "hard_challenge"
	ActionBlock         Action = "block"
)

// Challenge identifies a step-up verification method.
type Challenge string

const (
	ChallengeMFA             Challenge = "mfa"
	ChallengeCaptcha         Challenge = "captcha"
	ChallengeReenterPassword Challenge = "reenter_password"
)

// SimSwapFlags are the individual detections produced by the SIM-swap engine.
type SimSwapFlags struct {
	SimChanged      bool `json:"sim_changed"`
	DeviceChanged   bool `json:"device_changed"`
	BehaviorAnomaly bool `json:"behavior_anomaly"`
	TimeAnomaly     bool `json:"time_anomaly"`
	VelocityAnomaly bool `json:"velocity_anomaly"`
}

// SimSwapResult is the SIM-swap sub-assessment echoed in the response for
// transparency. Risk is in [0,1].
type SimSwapResult struct {
	Risk  float64      `json:"risk"`
	Flags SimSwapFlags `json:"flags"`
}

// BehaviorChange reports behavioral drift relative to the stored baseline.
type BehaviorChange struct {
	BaselineAvailable bool     `json:"baseline_available"`
	BehaviorChanged   bool     `json:"behavior_changed"`
	ChangeScore       float64  `json:"change_score"`
	SimilarityScore   float64  `json:"similarity_score"`
	ChangeReasons     []string `json:"change_reasons,omitempty"`
}

// AdaptiveResponse recommends a step-up challenge set for registration and
// login flows. Confidence is in [0,1].
type AdaptiveResponse struct {
	RecommendedAction Action      `json:"recommended_action"`
	Challenges        []Challenge `json:"challenges"`
	Reason            string      `json:"reason,omitempty"`
	Confidence        float64     `json:"confidence"`
}

// RiskAssessment is the per-request scoring result. It is ephemeral: the
// caller owns persistence and logging.
type RiskAssessment struct {
	RiskScore        int               `json:"risk_score"`          // 0-100
	Score            float64           `json:"score"`               // RiskScore / 100.0 exactly
	Action           Action            `json:"action"`
	Reasons          []string          `json:"reason"`
	SessionID        string            `json:"session_id,omitempty"`
	RequestID        string            `json:"request_id"`
	SimSwap          *SimSwapResult    `json:"sim_swap_engine,omitempty"`
	BehaviorChange   *BehaviorChange   `json:"behavior_change,omitempty"`
	AdaptiveResponse *AdaptiveResponse `json:"adaptive_response,omitempty"`
}
