// Package em2 is a client for the ALBA EM#2 four channel electrometer.
//
// The instrument speaks a SCPI like line protocol over TCP: every command
// is one line and gets one answer line. Errors come back as "ERROR: ...".
package em2

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/maxiv-kitscontrols/albaem/internal/transport"
	"github.com/sirupsen/logrus"
)

// DefaultPort is the SCPI port of the EM#2
const DefaultPort = 5025

// Options configures a Client
type Options struct {
	Host    string
	Port    int
	Timeout time.Duration
	Retries int
}

// Client talks to one electrometer
type Client struct {
	host string
	port int
	conn *transport.Conn
	log  *logrus.Entry

	firmware     *models.Firmware
	readIndexBug bool

	channels []*Channel
}

// New creates a client. The connection is established by Open or lazily by
// the first command.
func New(opts Options) *Client {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Timeout == 0 {
		opts.Timeout = transport.DefaultTimeout
	}

	c := &Client{
		host: opts.Host,
		port: opts.Port,
		conn: transport.NewConn(opts.Host, opts.Port, opts.Timeout, opts.Retries),
		log: logrus.WithFields(logrus.Fields{
			"device": "em2",
			"host":   opts.Host,
			"port":   opts.Port,
		}),
	}
	for i := 1; i <= models.NumChannels; i++ {
		c.channels = append(c.channels, &Channel{em: c, nb: i})
	}
	return c
}

// Open connects and reads the firmware version
func (c *Client) Open(ctx context.Context) error {
	if err := c.conn.Open(ctx); err != nil {
		return &models.AlbaEMError{
			Type: models.ErrCommunication,
			Err:  fmt.Errorf("cannot connect to %s: %w", c.conn.Address(), err),
		}
	}

	fw, err := c.SoftwareVersion(ctx)
	if err != nil {
		return err
	}
	c.firmware = fw
	c.readIndexBug = fw.HasReadIndexBug()
	c.log.Debugf("Firmware %s, read index bug: %v", fw, c.readIndexBug)
	return nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Host returns the device host name
func (c *Client) Host() string { return c.host }

// Port returns the device port
func (c *Client) Port() int { return c.port }

// Channel returns channel nb (1 based)
func (c *Client) Channel(nb int) (*Channel, error) {
	if nb < 1 || nb > len(c.channels) {
		return nil, models.NewError(models.ErrInvalidAxis, "channel %d out of range 1..%d", nb, len(c.channels))
	}
	return c.channels[nb-1], nil
}

// Channels returns all channels in order
func (c *Client) Channels() []*Channel {
	return c.channels
}

// Commands sends several commands in one exchange and returns the raw answers
func (c *Client) Commands(ctx context.Context, cmds ...string) ([]string, error) {
	c.log.Debugf("-> %q", cmds)
	replies, err := c.conn.WriteLinesReadLines(ctx, cmds)
	if err != nil {
		return nil, err
	}
	c.log.Debugf("<- %q", replies)
	return replies, nil
}

// Command sends one command and returns its answer. Device errors are
// returned as models.ErrDevice.
func (c *Client) Command(ctx context.Context, cmd string) (string, error) {
	replies, err := c.Commands(ctx, cmd)
	if err != nil {
		return "", err
	}
	reply := replies[0]
	if strings.HasPrefix(reply, "ERROR:") {
		msg := reply
		if i := strings.Index(reply, " "); i >= 0 {
			msg = reply[i+1:]
		}
		return "", &models.AlbaEMError{
			Type:    models.ErrDevice,
			Command: cmd,
			Err:     fmt.Errorf("%s", msg),
		}
	}
	return reply, nil
}

func (c *Client) commandf(ctx context.Context, format string, args ...interface{}) error {
	_, err := c.Command(ctx, fmt.Sprintf(format, args...))
	return err
}

// IDN returns the identification string
func (c *Client) IDN(ctx context.Context) (string, error) {
	return c.Command(ctx, "*idn?")
}

// SoftwareVersion parses the firmware version from the identification string
func (c *Client) SoftwareVersion(ctx context.Context) (*models.Firmware, error) {
	idn, err := c.IDN(ctx)
	if err != nil {
		return nil, err
	}
	fields := strings.Split(idn, ",")
	fw, err := models.ParseFirmware(fields[len(fields)-1])
	if err != nil {
		return nil, &models.AlbaEMError{Type: models.ErrProtocol, Command: "*idn?", Err: err}
	}
	return fw, nil
}

// Firmware returns the version read by Open
func (c *Client) Firmware() *models.Firmware {
	return c.firmware
}

// ReadIndexBug reports whether data reads need the shifted start index
func (c *Client) ReadIndexBug() bool {
	return c.readIndexBug
}

// AcquisitionState returns the state without the STATE_ prefix (ON, RUNNING, ACQUIRING, FAULT)
func (c *Client) AcquisitionState(ctx context.Context) (string, error) {
	reply, err := c.AcquisitionStatus(ctx)
	if err != nil {
		return "", err
	}
	return StateName(reply), nil
}

// AcquisitionStatus returns the raw ACQU:STAT? reply, e.g. STATE_ON
func (c *Client) AcquisitionStatus(ctx context.Context) (string, error) {
	return c.Command(ctx, "ACQU:STAT?")
}

// StateName strips the STATE_ prefix of an ACQU:STAT? reply
func StateName(status string) string {
	if i := strings.Index(status, "_"); i >= 0 {
		return status[i+1:]
	}
	return status
}

// AcquisitionTime returns the integration time
func (c *Client) AcquisitionTime(ctx context.Context) (time.Duration, error) {
	return c.durationQuery(ctx, "ACQU:TIME?")
}

// SetAcquisitionTime sets the integration time
func (c *Client) SetAcquisitionTime(ctx context.Context, d time.Duration) error {
	return c.commandf(ctx, "ACQU:TIME %s", formatMillis(d))
}

// NbPoints returns the number of triggers of the acquisition
func (c *Client) NbPoints(ctx context.Context) (int, error) {
	return c.intQuery(ctx, "ACQU:NTRIG?")
}

// SetNbPoints sets the number of triggers of the acquisition
func (c *Client) SetNbPoints(ctx context.Context, n int) error {
	return c.commandf(ctx, "ACQU:NTRIG %d", n)
}

// NbPointsReady returns the number of points acquired so far
func (c *Client) NbPointsReady(ctx context.Context) (int, error) {
	return c.intQuery(ctx, "ACQU:NDAT?")
}

// AcquisitionMode returns the acquisition mode (CURRENT, CHARGE...)
func (c *Client) AcquisitionMode(ctx context.Context) (string, error) {
	return c.Command(ctx, "ACQU:MODE?")
}

// SetAcquisitionMode sets the acquisition mode
func (c *Client) SetAcquisitionMode(ctx context.Context, mode string) error {
	return c.commandf(ctx, "ACQU:MODE %s", mode)
}

// TriggerInput returns the external trigger input
func (c *Client) TriggerInput(ctx context.Context) (string, error) {
	return c.Command(ctx, "TRIG:INPU?")
}

// SetTriggerInput selects the external trigger input
func (c *Client) SetTriggerInput(ctx context.Context, input string) error {
	return c.commandf(ctx, "TRIG:INPU %s", input)
}

// TriggerMode returns the trigger mode (SOFTWARE, HARDWARE, GATE)
func (c *Client) TriggerMode(ctx context.Context) (string, error) {
	return c.Command(ctx, "TRIG:MODE?")
}

// SetTriggerMode sets the trigger mode
func (c *Client) SetTriggerMode(ctx context.Context, mode string) error {
	return c.commandf(ctx, "TRIG:MODE %s", mode)
}

// TriggerPolarity returns the trigger polarity
func (c *Client) TriggerPolarity(ctx context.Context) (string, error) {
	return c.Command(ctx, "TRIG:POLA?")
}

// SetTriggerPolarity sets the trigger polarity
func (c *Client) SetTriggerPolarity(ctx context.Context, polarity string) error {
	return c.commandf(ctx, "TRIG:POLA %s", polarity)
}

// TriggerPrecision reports whether precise triggering is enabled
func (c *Client) TriggerPrecision(ctx context.Context) (bool, error) {
	return c.boolQuery(ctx, "TRIG:PREC?")
}

// SetTriggerPrecision enables or disables precise triggering
func (c *Client) SetTriggerPrecision(ctx context.Context, precise bool) error {
	return c.commandf(ctx, "TRIG:PREC %s", formatBool(precise))
}

// TriggerDelay returns the trigger delay
func (c *Client) TriggerDelay(ctx context.Context) (time.Duration, error) {
	return c.durationQuery(ctx, "TRIG:DELA?")
}

// SetTriggerDelay sets the trigger delay
func (c *Client) SetTriggerDelay(ctx context.Context, d time.Duration) error {
	return c.commandf(ctx, "TRIG:DELA %s", formatMillis(d))
}

// SoftwareTrigger fires one software trigger
func (c *Client) SoftwareTrigger(ctx context.Context) error {
	return c.commandf(ctx, "TRIG:SWSE True")
}

// TimestampData reports whether data reads include timestamps
func (c *Client) TimestampData(ctx context.Context) (bool, error) {
	return c.boolQuery(ctx, "TMST?")
}

// SetTimestampData enables or disables timestamps in data reads
func (c *Client) SetTimestampData(ctx context.Context, enabled bool) error {
	return c.commandf(ctx, "TMST %s", formatBool(enabled))
}

// StartAcquisition arms the electrometer. With softTrigger the first
// trigger is issued by the start itself.
func (c *Client) StartAcquisition(ctx context.Context, softTrigger bool) error {
	cmd := "ACQU:START"
	if softTrigger {
		cmd += " SWTRIG"
	}
	_, err := c.Command(ctx, cmd)
	return err
}

// StopAcquisition aborts the running acquisition
func (c *Client) StopAcquisition(ctx context.Context) error {
	return c.commandf(ctx, "ACQU:STOP True")
}

// Read returns nb points per channel starting at start. nb < 0 reads every
// point from start on.
func (c *Client) Read(ctx context.Context, start, nb int) ([]models.ChannelData, error) {
	if c.readIndexBug {
		start--
	}
	cmd := fmt.Sprintf("ACQU:MEAS? %d", start)
	if nb >= 0 {
		cmd += fmt.Sprintf(",%d", nb)
	}
	reply, err := c.Command(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return parseChannelData(reply)
}

func (c *Client) intQuery(ctx context.Context, cmd string) (int, error) {
	reply, err := c.Command(ctx, cmd)
	if err != nil {
		return 0, err
	}
	return parseInt(reply)
}

func (c *Client) floatQuery(ctx context.Context, cmd string) (float64, error) {
	reply, err := c.Command(ctx, cmd)
	if err != nil {
		return 0, err
	}
	return parseFloat(reply)
}

func (c *Client) durationQuery(ctx context.Context, cmd string) (time.Duration, error) {
	ms, err := c.floatQuery(ctx, cmd)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

func (c *Client) boolQuery(ctx context.Context, cmd string) (bool, error) {
	reply, err := c.Command(ctx, cmd)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(reply) {
	case "true", "on", "1":
		return true, nil
	default:
		return false, nil
	}
}

func formatMillis(d time.Duration) string {
	ms := float64(d) / float64(time.Millisecond)
	return strconv.FormatFloat(ms, 'f', -1, 64)
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
