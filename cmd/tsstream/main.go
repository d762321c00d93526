/*
DESCRIPTION
  tsstream reads an MPEG-TS stream from a file, stdin or a TCP source,
  paces it against its own embedded PCR (or a nominal byte rate), and
  forwards it to a UDP or RTP destination, under runtime control of an
  optional TCP command channel.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package main is the tsstream command driver.
package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/tsreader/streamer"
	"github.com/ausocean/tsreader/streamer/config"
	"github.com/ausocean/utils/logging"
)

// Current software version.
const version = "v0.1.0"

// Logging configuration.
const (
	logPath      = "tsstream.log"
	logMaxSize   = 100 // MB
	logMaxBackup = 5
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = true
)

func main() {
	showVersion := flag.Bool("version", false, "show version")
	source := flag.String("source", "-", "input file path, or '-' for stdin")
	tcpSource := flag.String("tcp-source", "", "dial this TCP address for input instead of -source")
	program := flag.Uint("program", config.DefaultProgram, "MPEG program number to follow")
	videoOnly := flag.Bool("video-only", false, "discard the audio elementary stream")
	output := flag.String("output", "", "destination UDP address (host:port)")
	rtp := flag.Bool("rtp", false, "encapsulate output in RTP")
	multicastIface := flag.String("multicast-interface", "", "local interface for multicast output")
	cmdAddr := flag.String("cmd", "", "TCP listen address for the runtime command channel")
	pcrMode := flag.String("pcr-mode", "none", "pacing mode: none, src, dst-ts or dst-pmt")
	byteRate := flag.Uint("byte-rate", config.DefaultByteRate, "nominal byte rate (bytes/s) used before a real rate is established")
	pcrScale := flag.Float64("pcr-scale", 1, "multiplicative PCR scale factor")
	bufferCap := flag.Uint("buffer-capacity", config.DefaultBufferCapacity, "pacing ring item capacity")
	maxInItem := flag.Uint("max-in-item", config.DefaultMaxInItem, "TS packets batched per sent datagram")
	perturbMs := flag.Float64("perturb-ms", 0, "uniform release-time jitter in +/- milliseconds")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(logVerbosity, fileLog, logSuppress)

	log.Info("starting tsstream", "version", version)

	cfg := config.NewConfig(log)
	cfg.Program = uint16(*program)
	cfg.VideoOnly = *videoOnly
	cfg.OutputAddress = *output
	cfg.MulticastInterface = *multicastIface
	cfg.Multicast = *multicastIface != ""
	cfg.CommandAddress = *cmdAddr
	cfg.ByteRate = *byteRate
	cfg.PCRScale = *pcrScale
	cfg.BufferCapacity = *bufferCap
	cfg.MaxInItem = *maxInItem
	cfg.PerturbMs = *perturbMs

	if *rtp {
		cfg.Output = config.OutputRTP
	}

	switch *pcrMode {
	case "src":
		cfg.PCRMode = config.PCRModeSrc
	case "dst-ts":
		cfg.PCRMode = config.PCRModeDstTS
	case "dst-pmt":
		cfg.PCRMode = config.PCRModeDstPMT
	default:
		cfg.PCRMode = config.PCRModeNone
	}

	if *tcpSource != "" {
		cfg.Source = config.SourceTCP
		cfg.SourcePath = *tcpSource
	} else if *source == "-" {
		cfg.Source = config.SourceStdin
	} else {
		cfg.Source = config.SourceFile
		cfg.SourcePath = *source
	}

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err.Error())
		os.Exit(1)
	}

	s, err := streamer.New(cfg)
	if err != nil {
		log.Error("could not create streamer", "error", err.Error())
		os.Exit(1)
	}

	if err := s.Start(); err != nil {
		log.Error("could not start streamer", "error", err.Error())
		os.Exit(1)
	}

	if err := s.Wait(); err != nil {
		log.Error("streamer exited with error", "error", err.Error())
		os.Exit(1)
	}

	log.Info("tsstream finished")
}
