/*
NAME
  config_test.go

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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ausocean/utils/logging"
)

func testLogger() logging.Logger {
	return logging.New(logging.Error, discard{}, true)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig(testLogger())
	if c.Program != DefaultProgram {
		t.Errorf("got Program %d, want %d", c.Program, DefaultProgram)
	}
	if c.ByteRate != DefaultByteRate {
		t.Errorf("got ByteRate %d, want %d", c.ByteRate, DefaultByteRate)
	}
	if c.BufferCapacity != DefaultBufferCapacity {
		t.Errorf("got BufferCapacity %d, want %d", c.BufferCapacity, DefaultBufferCapacity)
	}
	if c.WaitFor != DefaultWaitFor {
		t.Errorf("got WaitFor %v, want %v", c.WaitFor, DefaultWaitFor)
	}
}

func TestUpdateParsesFields(t *testing.T) {
	c := NewConfig(testLogger())
	c.Update(map[string]string{
		KeyProgram:        "2",
		KeyVideoOnly:      "true",
		KeyOutputAddress:  "239.0.0.1:1234",
		KeyMulticast:      "1",
		KeyByteRate:       "500000",
		KeyPCRScale:       "1.5",
		KeyBufferCapacity: "10",
		KeyMaxInItem:      "4",
		KeyPerturbMs:      "2.5",
		KeyWaitForMs:      "3",
	})

	want := NewConfig(nil)
	want.Program = 2
	want.VideoOnly = true
	want.OutputAddress = "239.0.0.1:1234"
	want.Multicast = true
	want.ByteRate = 500000
	want.PCRScale = 1.5
	want.BufferCapacity = 10
	want.MaxInItem = 4
	want.PerturbMs = 2.5
	want.WaitFor = 3 * time.Millisecond

	if diff := cmp.Diff(want, c, cmpopts.IgnoreFields(Config{}, "Logger")); diff != "" {
		t.Errorf("Config mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateIgnoresUnknownKeys(t *testing.T) {
	c := NewConfig(testLogger())
	before := c
	c.Update(map[string]string{"NotAField": "x"})
	if c != before {
		t.Error("unknown key mutated config")
	}
}
