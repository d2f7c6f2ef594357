// Package simulator emulates an EM#2 electrometer on a TCP socket. It is
// used by the test suites and by "albaem simulate" to exercise clients
// without hardware.
package simulator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/sirupsen/logrus"
)

// Config describes the emulated device
type Config struct {
	// Firmware is reported as the last field of *idn?
	Firmware string
	// Currents are the input currents of the four channels in amperes
	Currents [models.NumChannels]float64
}

// DefaultConfig returns a device with a recent firmware and small currents
func DefaultConfig() Config {
	return Config{
		Firmware: "2.1.0",
		Currents: [models.NumChannels]float64{1e-9, 2e-9, 3e-9, 4e-9},
	}
}

type channelState struct {
	rng       string
	inversion bool
	autorange bool
	current   float64
}

// Simulator is an emulated electrometer
type Simulator struct {
	mu sync.Mutex

	idn          string
	legacyOffset int

	acqTime  time.Duration
	nbPoints int
	mode     string
	tmst     bool

	trigMode  string
	trigInput string
	polarity  string
	precise   bool
	delay     time.Duration

	channels [models.NumChannels]channelState

	// acquisition bookkeeping
	armed     bool
	fault     bool
	train     bool
	startedAt time.Time
	triggers  []time.Time
	done      int

	now func() time.Time

	ln     net.Listener
	cancel context.CancelFunc
	wg     sync.WaitGroup
	conns map[net.Conn]struct{}
	log   *logrus.Entry
}

// New creates a simulator in its power on state
func New(cfg Config) (*Simulator, error) {
	if cfg.Firmware == "" {
		cfg.Firmware = DefaultConfig().Firmware
	}
	fw, err := models.ParseFirmware(cfg.Firmware)
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		idn:       fmt.Sprintf("ALBA Em#2 simulator,SN0000,%s", cfg.Firmware),
		acqTime:   100 * time.Millisecond,
		nbPoints:  1,
		mode:      "CURRENT",
		trigMode:  models.TriggerSoftware,
		trigInput: "DIO_1",
		polarity:  "RISING",
		now:       time.Now,
		conns:     make(map[net.Conn]struct{}),
		log:       logrus.WithField("component", "simulator"),
	}
	if fw.HasReadIndexBug() {
		s.legacyOffset = 1
	}
	for i := range s.channels {
		s.channels[i] = channelState{rng: models.Ranges[0], current: cfg.Currents[i]}
	}
	return s, nil
}

// Listen binds the simulator to addr, e.g. "127.0.0.1:0"
func (s *Simulator) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address
func (s *Simulator) Addr() *net.TCPAddr {
	return s.ln.Addr().(*net.TCPAddr)
}

// Serve accepts connections until ctx is done or the listener is closed
func (s *Simulator) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// Start listens on addr and serves in the background
func (s *Simulator) Start(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.Serve(ctx)
	return nil
}

// Close stops accepting and drops every open connection
func (s *Simulator) Close() error {
	if s.ln == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	err := s.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Simulator) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	s.log.Debugf("Client connected from %s", conn.RemoteAddr())
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		reply := s.Handle(line)
		if _, err := conn.Write([]byte(reply + "\r\n")); err != nil {
			return
		}
	}
}

// SetCurrent changes the input current of channel nb (1 based)
func (s *Simulator) SetCurrent(nb int, amps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[nb-1].current = amps
}

// SetFault forces the FAULT acquisition state
func (s *Simulator) SetFault(fault bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fault
}

// Handle executes one command line and returns the answer
func (s *Simulator) Handle(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimSpace(strings.TrimSuffix(line, ";"))
	if line == "" {
		return "ERROR: Empty command"
	}

	header, arg := line, ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		header, arg = line[:i], strings.TrimSpace(line[i+1:])
	}
	header = strings.ToUpper(header)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.update()

	reply, err := s.dispatch(header, arg)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	if reply == "" {
		return "ACK"
	}
	return reply
}

func (s *Simulator) dispatch(header, arg string) (string, error) {
	if strings.HasPrefix(header, "CHAN") {
		return s.channelCommand(header, arg)
	}

	switch header {
	case "*IDN?":
		return s.idn, nil
	case "ACQU:STAT?":
		return "STATE_" + s.state(), nil
	case "ACQU:TIME?":
		return formatFloat(float64(s.acqTime) / float64(time.Millisecond)), nil
	case "ACQU:TIME":
		ms, err := strconv.ParseFloat(arg, 64)
		if err != nil || ms < 0 {
			return "", fmt.Errorf("Invalid time %q", arg)
		}
		s.acqTime = time.Duration(ms * float64(time.Millisecond))
	case "ACQU:NTRIG?", "ACQU:NTRI?":
		return strconv.Itoa(s.nbPoints), nil
	case "ACQU:NTRIG", "ACQU:NTRI":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return "", fmt.Errorf("Invalid number of triggers %q", arg)
		}
		s.nbPoints = n
	case "ACQU:NDAT?":
		return strconv.Itoa(s.completed()), nil
	case "ACQU:MODE?":
		return s.mode, nil
	case "ACQU:MODE":
		if arg == "" {
			return "", errors.New("Missing mode")
		}
		s.mode = strings.ToUpper(arg)
	case "ACQU:START":
		return "", s.start(strings.EqualFold(arg, "SWTRIG"))
	case "ACQU:STOP":
		s.done = s.completed()
		s.armed = false
	case "ACQU:MEAS?":
		return s.measure(arg)
	case "TRIG:INPU?":
		return s.trigInput, nil
	case "TRIG:INPU":
		if _, ok := models.TriggerInputs[strings.ToUpper(arg)]; !ok {
			return "", fmt.Errorf("Invalid trigger input %q", arg)
		}
		s.trigInput = strings.ToUpper(arg)
	case "TRIG:MODE?":
		return s.trigMode, nil
	case "TRIG:MODE":
		mode := strings.ToUpper(arg)
		switch mode {
		case models.TriggerSoftware, models.TriggerHardware, models.TriggerGate:
			s.trigMode = mode
		default:
			return "", fmt.Errorf("Invalid trigger mode %q", arg)
		}
	case "TRIG:POLA?":
		return s.polarity, nil
	case "TRIG:POLA":
		s.polarity = strings.ToUpper(arg)
	case "TRIG:PREC?":
		return formatBool(s.precise), nil
	case "TRIG:PREC":
		b, err := parseBool(arg)
		if err != nil {
			return "", err
		}
		s.precise = b
	case "TRIG:DELA?":
		return formatFloat(float64(s.delay) / float64(time.Millisecond)), nil
	case "TRIG:DELA":
		ms, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return "", fmt.Errorf("Invalid delay %q", arg)
		}
		s.delay = time.Duration(ms * float64(time.Millisecond))
	case "TRIG:SWSE":
		return "", s.softwareTrigger()
	case "TMST?":
		return formatBool(s.tmst), nil
	case "TMST":
		b, err := parseBool(arg)
		if err != nil {
			return "", err
		}
		s.tmst = b
	default:
		return "", fmt.Errorf("Unknown command %s", header)
	}
	return "", nil
}

func (s *Simulator) channelCommand(header, arg string) (string, error) {
	parts := strings.SplitN(header, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 6 {
		return "", fmt.Errorf("Unknown command %s", header)
	}
	nb, err := strconv.Atoi(parts[0][4:])
	if err != nil || nb < 1 || nb > models.NumChannels {
		return "", fmt.Errorf("Invalid channel %s", parts[0])
	}
	ch := &s.channels[nb-1]

	switch parts[1] {
	case "CABO:RANGE?":
		return s.effectiveRange(ch), nil
	case "CABO:RANGE":
		if _, ok := models.RangeFullScale[arg]; !ok {
			return "", fmt.Errorf("Invalid range %q", arg)
		}
		ch.rng = arg
	case "CABO:INVE?":
		return formatOnOff(ch.inversion), nil
	case "CABO:INVE":
		b, err := parseBool(arg)
		if err != nil {
			return "", err
		}
		ch.inversion = b
	case "CABO:AUTO?":
		return formatOnOff(ch.autorange), nil
	case "CABO:AUTO":
		b, err := parseBool(arg)
		if err != nil {
			return "", err
		}
		if ch.autorange && !b {
			ch.rng = s.effectiveRange(ch)
		}
		ch.autorange = b
	case "INSC?", "INSCURRENT?":
		return formatFloat(s.value(ch)), nil
	case "INSV?":
		return formatFloat(s.voltage(ch)), nil
	case "CURR?":
		return formatList(repeat(s.value(ch), s.completed())), nil
	case "VOLT?":
		return formatList(repeat(s.voltage(ch), s.completed())), nil
	default:
		return "", fmt.Errorf("Unknown command %s", header)
	}
	return "", nil
}

func (s *Simulator) start(swtrig bool) error {
	if s.armed {
		return errors.New("Acquisition already running")
	}
	s.armed = true
	s.done = 0
	s.triggers = nil
	s.startedAt = s.now()
	s.train = swtrig || s.trigMode != models.TriggerSoftware
	return nil
}

func (s *Simulator) softwareTrigger() error {
	if !s.armed {
		return errors.New("Acquisition not running")
	}
	if s.train {
		return errors.New("Acquisition is not software triggered")
	}
	if s.pending() {
		return errors.New("Acquisition in progress")
	}
	s.triggers = append(s.triggers, s.now())
	return nil
}

// update finishes the acquisition once every point is acquired
func (s *Simulator) update() {
	if s.armed && s.completed() >= s.nbPoints {
		s.done = s.nbPoints
		s.armed = false
	}
}

func (s *Simulator) completed() int {
	if !s.armed {
		return s.done
	}
	now := s.now()
	if s.train {
		if s.acqTime <= 0 {
			return s.nbPoints
		}
		n := int(now.Sub(s.startedAt) / s.acqTime)
		if n > s.nbPoints {
			n = s.nbPoints
		}
		return n
	}
	n := 0
	for _, t := range s.triggers {
		if !now.Before(t.Add(s.acqTime)) {
			n++
		}
	}
	return n
}

func (s *Simulator) pending() bool {
	return len(s.triggers) > s.completed()
}

func (s *Simulator) state() string {
	switch {
	case s.fault:
		return models.AcqStateFault
	case !s.armed:
		return models.AcqStateOn
	case s.train || s.pending():
		return models.AcqStateAcquiring
	default:
		return models.AcqStateRunning
	}
}

func (s *Simulator) measure(arg string) (string, error) {
	start, nb := 0, -1
	if arg != "" {
		fields := strings.Split(arg, ",")
		var err error
		if start, err = strconv.Atoi(strings.TrimSpace(fields[0])); err != nil {
			return "", fmt.Errorf("Invalid start %q", fields[0])
		}
		if len(fields) > 1 {
			if nb, err = strconv.Atoi(strings.TrimSpace(fields[1])); err != nil {
				return "", fmt.Errorf("Invalid length %q", fields[1])
			}
		}
	}
	start += s.legacyOffset
	if start < 0 {
		return "", fmt.Errorf("Invalid start %d", start-s.legacyOffset)
	}

	available := s.completed() - start
	if available < 0 {
		available = 0
	}
	if nb < 0 || nb > available {
		nb = available
	}

	var b strings.Builder
	b.WriteByte('[')
	for i := range s.channels {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "['CHAN%02d', %s]", i+1, formatList(repeat(s.value(&s.channels[i]), nb)))
	}
	b.WriteByte(']')
	return b.String(), nil
}

// effectiveRange applies the autorange: the narrowest range holding the current
func (s *Simulator) effectiveRange(ch *channelState) string {
	if !ch.autorange {
		return ch.rng
	}
	best := models.Ranges[0]
	for _, r := range models.Ranges {
		if models.RangeFullScale[r] >= math.Abs(ch.current) {
			best = r
		}
	}
	return best
}

func (s *Simulator) value(ch *channelState) float64 {
	if ch.inversion {
		return -ch.current
	}
	return ch.current
}

// voltage is the amplifier output, 10V at full scale
func (s *Simulator) voltage(ch *channelState) float64 {
	return s.value(ch) / models.RangeFullScale[s.effectiveRange(ch)] * 10
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatList(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatFloat(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func formatOnOff(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}

func parseBool(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "true", "on", "1", "yes":
		return true, nil
	case "false", "off", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("Invalid boolean %q", arg)
	}
}
