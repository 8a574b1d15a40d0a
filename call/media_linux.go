// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// videoBitRate caps the VP8 encoder. Higher rates add encoding latency
// without a visible gain at the capture resolution below.
const videoBitRate = 1_500_000

// DeviceSource captures camera and microphone through V4L2 and the
// system audio backend, encoding VP8 and Opus in process.
type DeviceSource struct {
	selector *mediadevices.CodecSelector
	logger   *slog.Logger
}

// NewDeviceSource builds the codec stack for local capture.
func NewDeviceSource(logger *slog.Logger) (*DeviceSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("call: creating VP8 encoder params: %w", err)
	}
	vpxParams.BitRate = videoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("call: creating Opus encoder params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	return &DeviceSource{selector: selector, logger: logger}, nil
}

// NewAPI builds a webrtc API carrying the capture codecs, with ICE
// timeouts loose enough that a brief relay hiccup does not kill an
// established call.
func (s *DeviceSource) NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	s.selector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("call: registering interceptors: %w", err)
	}

	settings := webrtc.SettingEngine{}
	settings.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	), nil
}

// Capture opens local devices, degrading gracefully: camera and mic
// fail independently, so it tries both, then each alone, and errors
// only when every attempt fails.
func (s *DeviceSource) Capture(ctx context.Context) (*LocalMedia, error) {
	attempts := []struct {
		video, audio bool
		label        string
	}{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	}

	var lastErr error
	for _, attempt := range attempts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		constraints := mediadevices.MediaStreamConstraints{Codec: s.selector}
		if attempt.video {
			constraints.Video = videoConstraints
		}
		if attempt.audio {
			constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			s.logger.Warn("media capture attempt failed",
				"attempt", attempt.label, "error", err)
			lastErr = err
			continue
		}

		media := &LocalMedia{}
		for _, track := range stream.GetTracks() {
			switch track.Kind() {
			case webrtc.RTPCodecTypeVideo:
				media.Video = track
			case webrtc.RTPCodecTypeAudio:
				media.Audio = track
			}
		}
		s.logger.Info("local media captured",
			"video", media.Video != nil, "audio", media.Audio != nil)
		return media, nil
	}

	return nil, newError(classifyCaptureError(lastErr),
		fmt.Errorf("call: all media capture attempts failed: %w", lastErr))
}

// videoConstraints excludes MJPEG nodes, whose malformed frames poison
// the VP8 encoder, and caps the resolution to keep encoding latency
// interactive.
func videoConstraints(c *mediadevices.MediaTrackConstraints) {
	c.FrameFormat = prop.FrameFormatOneOf{
		frame.FormatYUYV,
		frame.FormatI420,
		frame.FormatI444,
		frame.FormatRGBA,
	}
	c.Width = prop.IntRanged{Max: 640}
	c.Height = prop.IntRanged{Max: 480}
}

// classifyCaptureError guesses the user-facing code from the driver
// error text. The drivers surface plain errors, so string matching is
// all there is.
func classifyCaptureError(err error) ErrorCode {
	if err == nil {
		return ErrDeviceNotFound
	}
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "permission") || strings.Contains(message, "access denied") {
		return ErrPermissionDenied
	}
	return ErrDeviceNotFound
}
