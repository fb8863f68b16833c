package scoring

import "github.com/trustsignal/trustsignal/internal/model"

// Bot-likeness heuristics over the optional browser interaction telemetry.
// These never move the risk score on their own; they steer adaptive
// challenge selection and suppress baseline learning for automated sessions.

const (
	headlessHintThreshold = 2
	linearPathThreshold   = 0.95
	linearPathMinMoves    = 10
	minHumanFillTimeMs    = 500
)

// botIndicators returns the automation signals present in the request, in a
// stable order. An empty slice means no automation evidence.
func botIndicators(signals *model.EnhancedSignals) []string {
	if signals == nil {
		return nil
	}

	var indicators []string
	if signals.Privacy != nil {
		if signals.Privacy.WebdriverPresent {
			indicators = append(indicators, "webdriver_present")
		}
		if signals.Privacy.HeadlessHints >= headlessHintThreshold {
			indicators = append(indicators, "headless_browser")
		}
	}
	if m := signals.Mouse; m != nil && m.MoveCount > linearPathMinMoves && m.PathLinearity > linearPathThreshold {
		indicators = append(indicators, "linear_mouse_path")
	}
	if f := signals.Form; f != nil {
		if f.PasteOnly && !f.Autofilled {
			indicators = append(indicators, "paste_only_form")
		}
		if f.FillTimeMs > 0 && f.FillTimeMs < minHumanFillTimeMs && !f.Autofilled {
			indicators = append(indicators, "inhuman_fill_time")
		}
	}
	return indicators
}
