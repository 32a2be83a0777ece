package weave

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gamevidea/weave/internal/protocol"
)

// Config carries the tunables of a network and the channels it creates.
// The zero value is usable: every field falls back to its default.
type Config struct {
	// MaxFramePayload bounds the payload of a single data frame. Messages
	// larger than this are fragmented.
	MaxFramePayload int

	// SendQueueSize bounds the queue between the application and the
	// channel's scheduler. Submitting messages blocks once it is full.
	SendQueueSize int

	// ReceiveQueueSize bounds the per-stream queue of messages delivered to
	// the application.
	ReceiveQueueSize int

	// ViolationLimit is the number of protocol violations one channel
	// tolerates before it is forcibly closed.
	ViolationLimit int

	// StrictPatch rejects peers whose patch version differs. Major and
	// minor must match regardless.
	StrictPatch bool

	// AllowRaw accepts inbound raw frames and permits sending them. Raw
	// frames are a debug facility and stay disabled in production.
	AllowRaw bool

	// Logger receives protocol-level events. Defaults to a nop logger.
	Logger *zap.Logger
}

// DefaultConfig returns the configuration used when no overrides are given.
func DefaultConfig() Config {
	return Config{
		MaxFramePayload:  protocol.DefaultMaxFramePayload,
		SendQueueSize:    256,
		ReceiveQueueSize: 256,
		ViolationLimit:   16,
		Logger:           zap.NewNop(),
	}
}

type fileConfig struct {
	MaxFramePayload  int  `toml:"max_frame_payload"`
	SendQueueSize    int  `toml:"send_queue_size"`
	ReceiveQueueSize int  `toml:"receive_queue_size"`
	ViolationLimit   int  `toml:"violation_limit"`
	StrictPatch      bool `toml:"strict_patch"`
	AllowRaw         bool `toml:"allow_raw"`
}

// LoadConfig reads overrides from a TOML file on top of the defaults. Keys
// absent from the file keep their default value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "load weave config")
	}

	if meta.IsDefined("max_frame_payload") {
		if raw.MaxFramePayload <= 0 || raw.MaxFramePayload > protocol.MaxFramePayload {
			return Config{}, errors.Errorf("max_frame_payload must be within (0, %d]", protocol.MaxFramePayload)
		}
		cfg.MaxFramePayload = raw.MaxFramePayload
	}

	if meta.IsDefined("send_queue_size") {
		cfg.SendQueueSize = raw.SendQueueSize
	}

	if meta.IsDefined("receive_queue_size") {
		cfg.ReceiveQueueSize = raw.ReceiveQueueSize
	}

	if meta.IsDefined("violation_limit") {
		cfg.ViolationLimit = raw.ViolationLimit
	}

	if meta.IsDefined("strict_patch") {
		cfg.StrictPatch = raw.StrictPatch
	}

	if meta.IsDefined("allow_raw") {
		cfg.AllowRaw = raw.AllowRaw
	}

	return cfg, nil
}

// withDefaults fills unset fields so that the rest of the package never has
// to branch on zero values.
func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.MaxFramePayload <= 0 || c.MaxFramePayload > protocol.MaxFramePayload {
		c.MaxFramePayload = def.MaxFramePayload
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.ReceiveQueueSize <= 0 {
		c.ReceiveQueueSize = def.ReceiveQueueSize
	}
	if c.ViolationLimit <= 0 {
		c.ViolationLimit = def.ViolationLimit
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}

	return c
}
