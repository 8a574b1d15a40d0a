// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package call

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// DeviceSource has no capture path off Linux: the mediadevices camera
// and microphone drivers are V4L2 and ALSA based. Sessions built on it
// are receive-only.
type DeviceSource struct {
	logger *slog.Logger
}

func NewDeviceSource(logger *slog.Logger) (*DeviceSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceSource{logger: logger}, nil
}

func (s *DeviceSource) NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("call: registering codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("call: registering interceptors: %w", err)
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

func (s *DeviceSource) Capture(ctx context.Context) (*LocalMedia, error) {
	return nil, newError(ErrDeviceNotFound,
		fmt.Errorf("call: local capture is not supported on this platform"))
}
