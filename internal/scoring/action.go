package scoring

import "github.com/trustsignal/trustsignal/internal/model"

// Action band boundaries on the 0-100 risk scale. Bands are inclusive.
const (
	softChallengeFloor = 30
	hardChallengeFloor = 50
	blockFloor         = 70
)

// mapAction maps a risk score to its action band.
func mapAction(riskScore int) model.Action {
	switch {
	case riskScore >= blockFloor:
		return model.ActionBlock
	case riskScore >= hardChallengeFloor:
		return model.ActionHardChallenge
	case riskScore >= softChallengeFloor:
		return model.ActionSoftChallenge
	default:
		return model.ActionAllow
	}
}

// adaptiveResponse recommends step-up challenges for login and registration
// flows. Other use cases get no adaptive block; the action alone is enough.
func adaptiveResponse(useCase model.UseCase, action model.Action, change *model.BehaviorChange, indicators []string) *model.AdaptiveResponse {
	if useCase != model.UseCaseLogin && useCase != model.UseCaseRegistration {
		return nil
	}

	resp := &model.AdaptiveResponse{
		RecommendedAction: action,
		Challenges:        []model.Challenge{},
		Confidence:        0.5,
	}
	if change != nil && change.BaselineAvailable {
		resp.Confidence = change.SimilarityScore / 100
	}

	behaviorChanged := change != nil && change.BehaviorChanged
	if behaviorChanged || len(indicators) > 0 {
		resp.Challenges = append(resp.Challenges, model.ChallengeCaptcha)
		if len(indicators) > 0 {
			resp.Reason = "automation_suspected"
		} else {
			resp.Reason = "behavioral_drift"
		}
	}
	if action == model.ActionSoftChallenge || action == model.ActionHardChallenge || action == model.ActionBlock {
		resp.Challenges = append(resp.Challenges, model.ChallengeMFA)
	}
	if action == model.ActionHardChallenge || action == model.ActionBlock {
		resp.Challenges = append(resp.Challenges, model.ChallengeReenterPassword)
	}

	return resp
}
