package ratelimit

import (
	"testing"
	"time"

	"github.com/meshguard/accumulator-gateway/internal/testing/assert"
	"github.com/meshguard/accumulator-gateway/internal/testing/require"
)

func TestAllowSourceExhaustsBurstThenRejects(t *testing.T) {
	limiter := New(Limits{PerSourceRate: 1, PerSourceBurst: 3, PerDeviceWindow: time.Minute, PerDeviceMax: 100})

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.AllowSource("1.2.3.4"))
	}
	err := limiter.AllowSource("1.2.3.4")
	assert.ErrorContains(t, "rate limit exceeded", err)
}

func TestAllowSourceTracksKeysIndependently(t *testing.T) {
	limiter := New(Limits{PerSourceRate: 1, PerSourceBurst: 1, PerDeviceWindow: time.Minute, PerDeviceMax: 100})

	require.NoError(t, limiter.AllowSource("1.2.3.4"))
	require.NoError(t, limiter.AllowSource("5.6.7.8"), "a distinct source must have its own bucket")
}

func TestAllowDeviceExceedsWindowMax(t *testing.T) {
	limiter := New(Limits{PerSourceRate: 100, PerSourceBurst: 100, PerDeviceWindow: time.Minute, PerDeviceMax: 2})
	var deviceID [32]byte
	deviceID[0] = 1

	require.NoError(t, limiter.AllowDevice(deviceID))
	require.NoError(t, limiter.AllowDevice(deviceID))
	err := limiter.AllowDevice(deviceID)
	assert.ErrorContains(t, "device operation rate limit exceeded", err)
}

func TestAllowDeviceTracksDevicesIndependently(t *testing.T) {
	limiter := New(Limits{PerSourceRate: 100, PerSourceBurst: 100, PerDeviceWindow: time.Minute, PerDeviceMax: 1})
	var deviceA, deviceB [32]byte
	deviceA[0] = 1
	deviceB[0] = 2

	require.NoError(t, limiter.AllowDevice(deviceA))
	require.NoError(t, limiter.AllowDevice(deviceB), "a distinct device_id must have its own window")
}

func TestDefaultLimitsAreSane(t *testing.T) {
	limits := DefaultLimits()
	assert.Equal(t, true, limits.PerSourceRate > 0)
	assert.Equal(t, true, limits.PerDeviceMax > 0)
}
