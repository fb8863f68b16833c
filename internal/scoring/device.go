package scoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trustsignal/trustsignal/internal/model"
	"github.com/trustsignal/trustsignal/internal/store"
)

// deviceResult carries the device-history signal plus the profile mutation
// to apply once the final decision permits learning.
type deviceResult struct {
	Contribution  float64
	Reasons       []string
	IsNewDevice   bool
	DeviceChanged bool
	Mutate        func(*store.DeviceProfile)
}

// DeviceEvaluator computes device-history signals from the profile store.
type DeviceEvaluator struct {
	store  store.ProfileStore
	cfg    Config
	logger *zap.Logger
}

// NewDeviceEvaluator creates a DeviceEvaluator.
func NewDeviceEvaluator(profileStore store.ProfileStore, cfg Config, logger *zap.Logger) *DeviceEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceEvaluator{
		store:  profileStore,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "device_evaluator")),
	}
}

// Evaluate looks up the device's history and scores new-device,
// device-changed and multi-device signals. Store failures degrade to the
// no-history case rather than failing the request.
func (e *DeviceEvaluator) Evaluate(ctx context.Context, req *model.FingerprintRequest) deviceResult {
	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.LookupTimeout)
	defer cancel()

	result := deviceResult{}
	now := req.Session.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	profile, err := e.store.GetDeviceProfile(lookupCtx, req.Device.DeviceID)
	if err != nil {
		e.logger.Warn("Device profile lookup degraded",
			zap.String("device_id", req.Device.DeviceID),
			zap.Error(err))
		profile = nil
	}

	if profile == nil {
		result.IsNewDevice = true
		result.Contribution += e.cfg.NewDeviceWeight
		result.Reasons = append(result.Reasons, "is_new_device")
	}

	if req.UserID != "" {
		devices, err := e.store.ListUserDevices(lookupCtx, req.UserID)
		if err != nil {
			e.logger.Warn("User device list lookup degraded",
				zap.String("user_id", req.UserID),
				zap.Error(err))
		} else {
			known := false
			for _, id := range devices {
				if id == req.Device.DeviceID {
					known = true
					break
				}
			}
			if len(devices) > 0 && !known {
				result.DeviceChanged = true
				result.Contribution += e.cfg.DeviceChangedWeight
				result.Reasons = append(result.Reasons, "device_changed")
			}
			if len(devices) > 1 {
				result.Contribution += e.cfg.MultipleDevicesWeight
				result.Reasons = append(result.Reasons, "multiple_devices")
			}
		}
	}

	if result.Contribution > e.cfg.DeviceCap {
		result.Contribution = e.cfg.DeviceCap
	}

	fingerprint := req.Device.FingerprintHash
	userID := req.UserID
	result.Mutate = func(p *store.DeviceProfile) {
		if p.FirstSeenAt.IsZero() {
			p.FirstSeenAt = now
		}
		p.LastSeenAt = now
		p.SeenCount++
		p.AddFingerprint(fingerprint)
		if userID != "" {
			p.UserID = userID
		}
	}

	return result
}
