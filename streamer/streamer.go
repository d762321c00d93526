/*
NAME
  streamer.go

DESCRIPTION
  streamer.go implements the producer/consumer orchestration of a paced
  MPEG-TS stream: a producer reads TS packets from a configured source
  and stages them into a pacing.Buffer; a consumer drains the buffer on
  a PCR-derived wall-clock schedule and writes datagrams to a configured
  UDP or RTP destination. An optional TCP command channel allows runtime
  control (pause/resume, quit); fast, reverse and stream-selection commands
  are accepted and recorded but do not change the output.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package streamer provides producer/consumer orchestration for pacing
// and forwarding an MPEG-TS stream, adapted from revid's capture/encode/
// send pipeline to this domain's read/pace/send pipeline.
package streamer

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ausocean/tsreader/analysis"
	"github.com/ausocean/tsreader/container/ts"
	"github.com/ausocean/tsreader/container/ts/psi"
	"github.com/ausocean/tsreader/pacing"
	sconfig "github.com/ausocean/tsreader/streamer/config"
)

// Streamer orchestrates the producer and consumer tasks described for a
// paced MPEG-TS forwarder, parameterised by a sconfig.Config.
type Streamer struct {
	cfg sconfig.Config

	buf      *pacing.Buffer
	pacer    *pacing.Pacer
	wall     *pacing.WallClock
	analyzer *analysis.Analyzer
	snd      sender

	asm    *ts.PSIAssembler
	pcrPID uint16

	cmdLn net.Listener

	mu     sync.Mutex
	mode   byte // Current command-channel mode: 'n', 'p', 'f', 'F', 'r', 'R'.
	stream byte // Selected stream (command '0'-'9'), 0 means unset.

	running bool
	stop    chan struct{}
	wg      sync.WaitGroup

	err chan error
}

// New returns a new Streamer with the given configuration.
func New(cfg sconfig.Config) (*Streamer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Streamer{
		cfg:      cfg,
		pacer:    pacing.NewPacer(pacerMode(cfg.PCRMode), float64(cfg.ByteRate)),
		wall:     pacing.NewWallClock(),
		analyzer: analysis.NewAnalyzer(),
		mode:     'n',
		err:      make(chan error, 1),
	}, nil
}

func pacerMode(m uint8) pacing.Mode {
	switch m {
	case sconfig.PCRModeSrc:
		return pacing.ModeSrcPCR
	case sconfig.PCRModeDstTS:
		return pacing.ModeDstTS
	case sconfig.PCRModeDstPMT:
		return pacing.ModeDstPMT
	default:
		return pacing.ModeNone
	}
}

// Start opens the configured source and destination and begins the
// producer/consumer tasks. It returns once both are running; Wait blocks
// until they finish.
func (s *Streamer) Start() error {
	if s.running {
		s.cfg.Logger.Warning("start called, but streamer already running")
		return nil
	}

	src, err := s.openSource()
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}

	if s.cfg.PCRScale > 0 {
		s.pacer.SetScale(s.cfg.PCRScale)
	}
	if s.cfg.PerturbMs != 0 {
		s.wall.SetPerturb(s.cfg.PerturbMs)
	}
	if s.cfg.MaxNoWait > 0 {
		s.wall.SetMaxNoWait(s.cfg.MaxNoWait, s.cfg.WaitFor)
	}

	snd, err := s.openSender()
	if err != nil {
		return fmt.Errorf("opening destination: %w", err)
	}
	s.snd = snd

	s.asm = ts.NewPSIAssembler(s.cfg.Logger)

	bufCap := int(s.cfg.BufferCapacity)
	s.buf = pacing.NewBuffer(bufCap, s.pacer.SawPCR)

	if s.cfg.CommandAddress != "" {
		ln, err := net.Listen("tcp", s.cfg.CommandAddress)
		if err != nil {
			return fmt.Errorf("opening command channel: %w", err)
		}
		s.cmdLn = ln
		s.wg.Add(1)
		go s.runCommandChannel()
	}

	s.stop = make(chan struct{})
	s.wg.Add(2)
	go s.produce(src)
	go s.consume()

	s.running = true
	return nil
}

// Wait blocks until the producer and consumer tasks have both finished.
func (s *Streamer) Wait() error {
	s.wg.Wait()
	select {
	case err := <-s.err:
		return err
	default:
		return nil
	}
}

// Stop signals the producer/consumer tasks to terminate and waits for
// them to do so.
func (s *Streamer) Stop() {
	if !s.running {
		return
	}
	close(s.stop)
	if s.cmdLn != nil {
		s.cmdLn.Close()
	}
	s.buf.Close()
	s.wg.Wait()
	if s.snd != nil {
		s.snd.Close()
	}
	s.running = false
}

// Update applies a new set of named configuration variables, per
// sconfig.Config.Update. The streamer must be stopped and restarted for
// most changes to take effect.
func (s *Streamer) Update(vars map[string]string) {
	s.cfg.Update(vars)
}

func (s *Streamer) openSource() (io.Reader, error) {
	switch s.cfg.Source {
	case sconfig.SourceStdin:
		return os.Stdin, nil
	case sconfig.SourceTCP:
		conn, err := net.Dial("tcp", s.cfg.SourcePath)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		f, err := os.Open(s.cfg.SourcePath)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

func (s *Streamer) openSender() (sender, error) {
	iface := ""
	if s.cfg.Multicast {
		iface = s.cfg.MulticastInterface
	}
	switch s.cfg.Output {
	case sconfig.OutputRTP:
		return newRTPSender(s.cfg.OutputAddress, iface, s.cfg.Logger)
	default:
		return newUDPSender(s.cfg.OutputAddress, iface, s.cfg.Logger)
	}
}

// produce reads TS packets from src, batches them into pacing items of
// up to MaxInItem packets, tracks PAT/PMT to learn the PCR PID, and
// pushes items to the ring. When the source ends or fails, or on stop, an
// EOS item is enqueued so the consumer can drain cleanly, per spec.md §5's
// cancellation rule; when pushing an item fails, the error is reported and
// produce returns without enqueuing EOS.
func (s *Streamer) produce(src io.Reader) {
	defer s.wg.Done()

	r := ts.NewReader(src, 0)

	maxInItem := int(s.cfg.MaxInItem)
	if maxInItem <= 0 {
		maxInItem = sconfig.DefaultMaxInItem
	}

	var batch []byte
	var batchCount int
	var gotPCR bool
	var pcrVal uint64

	flush := func() bool {
		if batchCount == 0 {
			return true
		}
		obs := pacing.Observation{Bytes: len(batch), GotPCR: gotPCR, PCR: pcrVal}
		release, disc := s.pacer.Next(obs)
		if disc {
			s.cfg.Logger.Warning("pacer detected PCR discontinuity", "pcr", pcrVal)
		}
		item := pacing.Item{Data: encodeItem(batch, release, pcrVal)}
		batch = nil
		batchCount = 0
		gotPCR = false
		if err := s.buf.Push(item); err != nil {
			s.reportErr(err)
			return false
		}
		return true
	}

	for {
		select {
		case <-s.stop:
			s.buf.Push(pacing.EOS())
			return
		default:
		}

		p, err := r.ReadPacket()
		if err != nil {
			flush()
			s.buf.Push(pacing.EOS())
			if err != io.EOF {
				s.reportErr(err)
			}
			return
		}

		s.feedPSI(p)

		if p.PID == s.pcrPID && p.PCRF {
			gotPCR = true
			pcrVal = p.PCR
		}

		raw := p.Bytes(nil)
		batch = append(batch, raw...)
		batchCount++

		for _, r := range s.analyzer.Observe(p, raw) {
			s.cfg.Logger.Warning(r.Message, "pid", r.PID, "kind", r.Kind)
		}

		if batchCount >= maxInItem {
			if !flush() {
				return
			}
		}
	}
}

// feedPSI hands p's payload to the PSI assembler when it carries PAT or
// PMT data, and records the PCR PID once the PMT for the configured
// program is known.
func (s *Streamer) feedPSI(p *ts.Packet) {
	pmtPID := s.pmtPID()
	if p.PID == ts.PatPID || (pmtPID != 0 && p.PID == pmtPID) {
		s.asm.Feed(p.PID, p.PUSI, p.Payload)
	}
	if s.pcrPID == 0 {
		if pmt := s.asm.PMT(); pmt != nil {
			if m, ok := pmt.SyntaxSection.SpecificData.(*psi.PMT); ok {
				s.pcrPID = m.ProgramClockPID
			}
		}
	}
}

func (s *Streamer) pmtPID() uint16 {
	pat := s.asm.PAT()
	if pat == nil {
		return 0
	}
	pm, ok := pat.SyntaxSection.SpecificData.(*psi.PAT)
	if !ok {
		return 0
	}
	if s.cfg.Program != 0 && pm.Program != s.cfg.Program {
		return 0
	}
	return pm.ProgramMapPID
}

// consume drains items from the ring on a wall-clock schedule, paced by
// the release time each item was assigned, and writes them to the
// configured destination. It stops after draining an EOS item.
func (s *Streamer) consume() {
	defer s.wg.Done()

	for {
		item, err := s.buf.Pop()
		if err != nil {
			return
		}
		if item.IsEOS {
			return
		}

		payload, release, pcr := decodeItem(item.Data)

		if s.currentMode() == 'p' {
			s.waitForResume()
		}

		s.wall.Wait(release, func(d time.Duration) {
			s.cfg.Logger.Warning("pacing drift exceeded threshold, baseline reset", "late_by", d.String())
		})

		if err := s.snd.Send(payload, pcr); err != nil {
			s.reportErr(err)
			return
		}
	}
}

func (s *Streamer) currentMode() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// waitForResume blocks the consumer while paused, polling for a mode
// change or a stop signal.
func (s *Streamer) waitForResume() {
	for s.currentMode() == 'p' {
		select {
		case <-s.stop:
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (s *Streamer) reportErr(err error) {
	select {
	case s.err <- err:
	default:
	}
}

// runCommandChannel accepts a single connection on the command listener
// and dispatches single-byte commands per spec.md §6. EOF is equivalent
// to 'q'.
func (s *Streamer) runCommandChannel() {
	defer s.wg.Done()

	conn, err := s.cmdLn.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	buf := make([]byte, 1)
	for {
		_, err := conn.Read(buf)
		if err != nil {
			s.handleCommand('q')
			return
		}
		if s.handleCommand(buf[0]) {
			return
		}
	}
}

// handleCommand applies a single command-channel byte, per spec.md §6:
// n (normal), p (pause), f/F (fast), r/R (reverse), skip (>/</]/[),
// 0-9 (select stream), q (quit). Of the mode bytes, only p changes what the
// consumer does: it pauses until any other mode byte arrives. Stream bytes
// are only recorded. It
// reports whether the streamer should stop.
func (s *Streamer) handleCommand(c byte) bool {
	switch {
	case c == 'q':
		// Stop blocks on s.wg, which this goroutine is itself a member of;
		// run it asynchronously so this handler can return and release its
		// own wg slot first.
		go s.Stop()
		return true
	case c == 'n' || c == 'p' || c == 'f' || c == 'F' || c == 'r' || c == 'R':
		s.mu.Lock()
		s.mode = c
		s.mu.Unlock()
	case c >= '0' && c <= '9':
		s.mu.Lock()
		s.stream = c
		s.mu.Unlock()
	case c == '>' || c == '<' || c == ']' || c == '[':
		// Skip commands are acknowledged but have no effect on a live TS
		// forwarding pipeline, which has no seekable frame index.
	}
	return false
}

// itemHeaderLen is the size of the release-time/PCR header encodeItem
// prepends to each pacing.Item's payload.
const itemHeaderLen = 16

// encodeItem packs a computed release time and governing PCR ahead of
// payload into a single byte slice suitable for pacing.Item.Data, since
// Item carries only a flat byte slice.
func encodeItem(payload []byte, release float64, pcr uint64) []byte {
	buf := make([]byte, itemHeaderLen+len(payload))
	binary.BigEndian.PutUint64(buf[0:8], math.Float64bits(release))
	binary.BigEndian.PutUint64(buf[8:16], pcr)
	copy(buf[itemHeaderLen:], payload)
	return buf
}

// decodeItem unpacks the release time, PCR and payload encoded by
// encodeItem.
func decodeItem(data []byte) (payload []byte, release float64, pcr uint64) {
	release = math.Float64frombits(binary.BigEndian.Uint64(data[0:8]))
	pcr = binary.BigEndian.Uint64(data[8:16])
	payload = data[itemHeaderLen:]
	return payload, release, pcr
}
