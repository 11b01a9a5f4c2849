package bridge

import (
	"time"

	"wepush/pkg/config"
	"wepush/pkg/filter"
)

const (
	defaultPollInterval = time.Second
	defaultDedupSize    = 512
	defaultQueueSize    = 100
)

type Options struct {
	PlatformID    string
	TargetChats   []string
	ListenAll     bool
	ExcludedChats []string

	PollInterval    time.Duration
	SendMaxAttempts int
	SendBackoff     time.Duration
	ChatCallTimeout time.Duration
	// ChatSendRate limits replies pushed into the chat client, per second. Zero disables it.
	ChatSendRate    float64
	RefreshSchedule string
	NoiseMarkers    []string

	DedupSize int
	QueueSize int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PlatformID:      cfg.Backend.PlatformID,
		TargetChats:     cfg.WeChat.TargetChats,
		ListenAll:       cfg.ListenAll(),
		ExcludedChats:   cfg.WeChat.ExcludedChats,
		PollInterval:    cfg.Bridge.PollInterval,
		SendMaxAttempts: cfg.Bridge.SendMaxAttempts,
		SendBackoff:     cfg.Bridge.SendBackoff,
		ChatCallTimeout: cfg.Bridge.ChatCallTimeout,
		ChatSendRate:    cfg.Bridge.ChatSendRate,
		RefreshSchedule: cfg.Bridge.RefreshSchedule,
		NoiseMarkers:    cfg.Bridge.NoiseMarkers,
	}
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.SendMaxAttempts < 1 {
		o.SendMaxAttempts = 1
	}
	if o.SendBackoff < 0 {
		o.SendBackoff = 0
	}
	if o.NoiseMarkers == nil {
		o.NoiseMarkers = filter.DefaultNoiseMarkers
	}
	if o.DedupSize <= 0 {
		o.DedupSize = defaultDedupSize
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	return o
}
