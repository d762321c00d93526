/*
NAME
  config.go

DESCRIPTION
  config.go provides the configuration settings for the streamer package.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package config contains the configuration settings for the streamer.
package config

import (
	"time"

	"github.com/ausocean/utils/logging"
)

// Source kinds.
const (
	SourceFile = iota
	SourceStdin
	SourceTCP
)

// Output kinds.
const (
	OutputUDP = iota
	OutputRTP
)

// PCR pacing modes, mirroring pacing.Mode.
const (
	PCRModeNone = iota
	PCRModeSrc
	PCRModeDstTS
	PCRModeDstPMT
)

// Config provides the parameters relevant to a streamer instance. A new
// config must be passed to the constructor; NewConfig supplies defaults
// for fields not otherwise set.
type Config struct {
	// Source selects where TS bytes are read from: SourceFile, SourceStdin
	// or SourceTCP.
	Source uint8

	// SourcePath is the file path (SourceFile) or listen/dial address
	// (SourceTCP) for the input.
	SourcePath string

	// Program selects the MPEG program number to demux, as announced in
	// the PAT.
	Program uint16

	// VideoOnly, if true, demuxes only the video PID, discarding audio.
	VideoOnly bool

	// Output selects the outgoing encapsulation: OutputUDP (raw TS
	// datagrams) or OutputRTP (RTP-encapsulated, see protocol/rtp).
	Output uint8

	// OutputAddress is the destination UDP address (host:port).
	OutputAddress string

	// Multicast, if true, treats OutputAddress as a multicast group and
	// binds to MulticastInterface for outgoing packets.
	Multicast bool

	// MulticastInterface names the local interface used for multicast
	// output. Ignored unless Multicast is true.
	MulticastInterface string

	// CommandAddress is the optional TCP listen address for the command
	// channel (spec.md §6). Empty disables the command channel.
	CommandAddress string

	// PCRMode selects the pacing.Mode used by the PCR pacer: PCRModeNone,
	// PCRModeSrc, PCRModeDstTS or PCRModeDstPMT.
	PCRMode uint8

	// ByteRate is the nominal output byte rate (bytes/s) used by Mode None
	// and before a real PCR-derived rate is established.
	ByteRate uint

	// PCRScale applies a multiplicative factor to every observed PCR
	// before pacing, to simulate a slow or fast stream.
	PCRScale float64

	// PrimeSize holds a priming size in items. It is set by NewConfig and
	// Update only; the streamer and pacer do not read it, and no items are
	// held back before pacing begins.
	PrimeSize uint

	// PrimeSpeedup holds a priming speed-up percentage. It is set by
	// NewConfig and Update only; the streamer and pacer do not read it, and
	// release times are never shortened.
	PrimeSpeedup uint

	// BufferCapacity is the pacing ring's item capacity.
	BufferCapacity uint

	// MaxInItem caps the number of TS packets batched into a single
	// pacing item (1316-byte, 7-packet datagrams by default).
	MaxInItem uint

	// PerturbMs, if non-zero, adds uniform jitter in ±PerturbMs
	// milliseconds to every release time to simulate network jitter.
	PerturbMs float64

	// MaxNoWait caps consecutive zero-wait sends before a mandatory pause.
	MaxNoWait int

	// WaitFor is the mandatory pause duration inserted after MaxNoWait
	// consecutive zero-wait sends.
	WaitFor time.Duration

	// Logger holds an implementation of the Logger interface.
	Logger logging.Logger

	// LogLevel is the streamer's logging verbosity level.
	LogLevel int8
}

// Default values, used by NewConfig.
const (
	DefaultProgram        = 1
	DefaultByteRate       = 1_000_000
	DefaultPrimeSize      = 16
	DefaultPrimeSpeedup   = 50
	DefaultBufferCapacity = 64
	DefaultMaxInItem      = 7
	DefaultMaxNoWait      = 64
	DefaultWaitFor        = time.Millisecond
)

// NewConfig returns a Config with spec-default values for fields not
// otherwise interesting to set explicitly.
func NewConfig(log logging.Logger) Config {
	return Config{
		Program:        DefaultProgram,
		PCRScale:       1,
		ByteRate:       DefaultByteRate,
		PrimeSize:      DefaultPrimeSize,
		PrimeSpeedup:   DefaultPrimeSpeedup,
		BufferCapacity: DefaultBufferCapacity,
		MaxInItem:      DefaultMaxInItem,
		MaxNoWait:      DefaultMaxNoWait,
		WaitFor:        DefaultWaitFor,
		Logger:         log,
	}
}

// Validate calls the Validate function of each entry in Variables that has
// one, and returns nil. No entry in Variables has a Validate function, so no
// field is checked or defaulted.
func (c *Config) Validate() error {
	for _, v := range Variables {
		if v.Validate != nil {
			v.Validate(c)
		}
	}
	return nil
}

// Update takes a map of configuration variable names and their
// corresponding values, parses the string values and sets the Config
// struct fields as appropriate.
func (c *Config) Update(vars map[string]string) {
	for _, value := range Variables {
		if v, ok := vars[value.Name]; ok && value.Update != nil {
			value.Update(c, v)
		}
	}
}

// LogInvalidField logs that a field was bad or unset and the default
// being used in its place.
func (c *Config) LogInvalidField(name string, def interface{}) {
	c.Logger.Info(name+" bad or unset, defaulting", name, def)
}
