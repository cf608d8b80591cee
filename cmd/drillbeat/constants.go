package main

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	KEY_VOLUMEDOWN = 114
	KEY_VOLUMEUP   = 115
	KEY_PLAYPAUSE  = 164
	KEY_STOPCD     = 166
	KEY_PLAYCD     = 200
	KEY_PAUSECD    = 201
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Daemon defaults
const (
	defaultUpdateHz       = 60   // Phase derivation / broadcast cadence (Hz)
	defaultVolumeStep     = 0.05 // Media-key volume step (linear gain)
	defaultVolume         = 0.8  // Initial master volume
	defaultStartTimeoutMS = 2000 // Upper bound for the audio clock to come up (ms)
	defaultSampleRate     = 48000
	defaultChannels       = 2
	defaultSocketPath     = "/tmp/drillbeat.sock"
	defaultHTTPPort       = 3002
	defaultWSPath         = "/ws"
	defaultDrillDebounce  = 150 // Coalesce bursts of editor writes (ms)
)
