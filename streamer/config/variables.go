/*
NAME
  variables.go

DESCRIPTION
  variables.go contains a list of structs that provide a variable Name, a
  function for updating the variable in the Config struct from a string,
  and a validation function to check the validity of the corresponding
  field value in the Config.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config map keys.
const (
	KeyProgram            = "Program"
	KeyVideoOnly           = "VideoOnly"
	KeyOutputAddress       = "OutputAddress"
	KeyMulticast           = "Multicast"
	KeyMulticastInterface  = "MulticastInterface"
	KeyCommandAddress      = "CommandAddress"
	KeyByteRate            = "ByteRate"
	KeyPCRScale            = "PCRScale"
	KeyPrimeSize           = "PrimeSize"
	KeyPrimeSpeedup        = "PrimeSpeedup"
	KeyBufferCapacity      = "BufferCapacity"
	KeyMaxInItem           = "MaxInItem"
	KeyPerturbMs           = "PerturbMs"
	KeyMaxNoWait           = "MaxNoWait"
	KeyWaitForMs           = "WaitForMs"
)

// Variables describes every field updatable via Config.Update, in the
// table-driven shape used throughout the codebase's config packages.
var Variables = []struct {
	Name     string
	Update   func(*Config, string)
	Validate func(*Config)
}{
	{
		Name:   KeyProgram,
		Update: func(c *Config, v string) { c.Program = uint16(parseUint(KeyProgram, v, c)) },
	},
	{
		Name:   KeyVideoOnly,
		Update: func(c *Config, v string) { c.VideoOnly = parseBool(KeyVideoOnly, v, c) },
	},
	{
		Name:   KeyOutputAddress,
		Update: func(c *Config, v string) { c.OutputAddress = v },
	},
	{
		Name:   KeyMulticast,
		Update: func(c *Config, v string) { c.Multicast = parseBool(KeyMulticast, v, c) },
	},
	{
		Name:   KeyMulticastInterface,
		Update: func(c *Config, v string) { c.MulticastInterface = v },
	},
	{
		Name:   KeyCommandAddress,
		Update: func(c *Config, v string) { c.CommandAddress = v },
	},
	{
		Name:   KeyByteRate,
		Update: func(c *Config, v string) { c.ByteRate = parseUint(KeyByteRate, v, c) },
	},
	{
		Name: KeyPCRScale,
		Update: func(c *Config, v string) {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				c.Logger.Warning("expected float for PCRScale", "value", v)
				return
			}
			c.PCRScale = f
		},
	},
	{
		Name:   KeyPrimeSize,
		Update: func(c *Config, v string) { c.PrimeSize = parseUint(KeyPrimeSize, v, c) },
	},
	{
		Name:   KeyPrimeSpeedup,
		Update: func(c *Config, v string) { c.PrimeSpeedup = parseUint(KeyPrimeSpeedup, v, c) },
	},
	{
		Name:   KeyBufferCapacity,
		Update: func(c *Config, v string) { c.BufferCapacity = parseUint(KeyBufferCapacity, v, c) },
	},
	{
		Name:   KeyMaxInItem,
		Update: func(c *Config, v string) { c.MaxInItem = parseUint(KeyMaxInItem, v, c) },
	},
	{
		Name: KeyPerturbMs,
		Update: func(c *Config, v string) {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				c.Logger.Warning("expected float for PerturbMs", "value", v)
				return
			}
			c.PerturbMs = f
		},
	},
	{
		Name:   KeyMaxNoWait,
		Update: func(c *Config, v string) { c.MaxNoWait = int(parseUint(KeyMaxNoWait, v, c)) },
	},
	{
		Name: KeyWaitForMs,
		Update: func(c *Config, v string) {
			c.WaitFor = time.Duration(parseUint(KeyWaitForMs, v, c)) * time.Millisecond
		},
	},
}

func parseUint(n, v string, c *Config) uint {
	_v, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		c.Logger.Warning(fmt.Sprintf("expected unsigned int for param %s", n), "value", v)
	}
	return uint(_v)
}

func parseBool(n, v string, c *Config) (b bool) {
	switch v {
	case "true", "1":
		b = true
	case "false", "0":
		b = false
	default:
		c.Logger.Warning(fmt.Sprintf("expected bool for param %s", n), "value", v)
	}
	return
}
