// Package controller implements the counter/timer controller contract for
// an EM#2: axis 1 is the timer, axes 2 to 5 are the four current channels.
package controller

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maxiv-kitscontrols/albaem/internal/em2"
	"github.com/maxiv-kitscontrols/albaem/internal/formula"
	"github.com/maxiv-kitscontrols/albaem/internal/memorize"
	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// MaxDevice is the number of axes: the timer plus four channels
	MaxDevice = 5
	// TimerAxis is the master axis
	TimerAxis = 1
)

// MinIntegrationTime is the shortest integration the electrometer accepts
const MinIntegrationTime = 100 * time.Microsecond

// StartTimeout bounds the wait for the acquisition to start
var StartTimeout = 3 * time.Second

const (
	keyAcquisitionMode = "acquisitionmode"
	keyFormulaPrefix   = "formula/"
)

// Properties configures a controller
type Properties struct {
	Name            string
	Host            string
	Port            int
	ExtTriggerInput string
	Timeout         time.Duration
	Retries         int
}

// Validate checks the properties
func (p *Properties) Validate() error {
	if p.Host == "" {
		return models.NewError(models.ErrInvalidConfig, "host is required")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return models.NewError(models.ErrInvalidConfig, "invalid port %d", p.Port)
	}
	if p.ExtTriggerInput != "" {
		if _, ok := models.TriggerInputs[p.ExtTriggerInput]; !ok {
			return models.NewError(models.ErrInvalidConfig, "invalid external trigger input %q", p.ExtTriggerInput)
		}
	}
	if p.Name == "" {
		p.Name = fmt.Sprintf("%s:%d", p.Host, p.Port)
	}
	return nil
}

// CoTiCtrl drives one electrometer as a counter/timer
type CoTiCtrl struct {
	props Properties
	em    *em2.Client
	store *memorize.Store
	log   *logrus.Entry

	mu          sync.Mutex
	axes        map[int]bool
	sync        Synchronization
	itime       time.Duration
	repetitions int
	index       int
	state       State
	status      string
	newData     [][]float64
	formulas    map[int]*formula.Formula
}

// New connects to the electrometer and restores the memorized attributes
func New(ctx context.Context, props Properties, store *memorize.Store) (*CoTiCtrl, error) {
	if err := props.Validate(); err != nil {
		return nil, err
	}

	em := em2.New(em2.Options{
		Host:    props.Host,
		Port:    props.Port,
		Timeout: props.Timeout,
		Retries: props.Retries,
	})
	if err := em.Open(ctx); err != nil {
		return nil, err
	}

	c := &CoTiCtrl{
		props:    props,
		em:       em,
		store:    store,
		log:      logrus.WithField("ctrl", props.Name),
		axes:     make(map[int]bool),
		formulas: make(map[int]*formula.Formula),
	}
	if err := c.restore(ctx); err != nil {
		em.Close()
		return nil, err
	}
	return c, nil
}

// Client returns the underlying electrometer client
func (c *CoTiCtrl) Client() *em2.Client {
	return c.em
}

// Close closes the connection to the electrometer
func (c *CoTiCtrl) Close() error {
	return c.em.Close()
}

func (c *CoTiCtrl) restore(ctx context.Context) error {
	var mode string
	found, err := c.store.Load(c.props.Name, keyAcquisitionMode, &mode)
	if err != nil {
		return fmt.Errorf("failed to load memorized acquisition mode: %w", err)
	}
	if found {
		c.log.Infof("Restoring acquisition mode %s", mode)
		if err := c.em.SetAcquisitionMode(ctx, mode); err != nil {
			return err
		}
	}

	for axis := TimerAxis + 1; axis <= MaxDevice; axis++ {
		var src string
		found, err := c.store.Load(c.props.Name, keyFormulaPrefix+strconv.Itoa(axis), &src)
		if err != nil {
			return fmt.Errorf("failed to load memorized formula of axis %d: %w", axis, err)
		}
		if !found {
			continue
		}
		f, err := formula.Compile(src)
		if err != nil {
			c.log.Warnf("Ignoring memorized formula of axis %d: %v", axis, err)
			continue
		}
		c.formulas[axis] = f
	}
	return nil
}

func checkAxis(axis int) error {
	if axis < 1 || axis > MaxDevice {
		return &models.AlbaEMError{
			Type: models.ErrInvalidAxis,
			Err:  fmt.Errorf("axis %d out of range 1..%d", axis, MaxDevice),
		}
	}
	return nil
}

func checkChannelAxis(axis int) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	if axis == TimerAxis {
		return models.NewError(models.ErrInvalidAxis, "axis %d is the timer and has no channel attributes", axis)
	}
	return nil
}

// AddDevice registers an axis
func (c *CoTiCtrl) AddDevice(axis int) error {
	c.log.Debugf("AddDevice(%d)", axis)
	if err := checkAxis(axis); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.axes[axis] = true
	if axis != TimerAxis {
		c.index = 0
	}
	return nil
}

// DeleteDevice unregisters an axis
func (c *CoTiCtrl) DeleteDevice(axis int) error {
	c.log.Debugf("DeleteDevice(%d)", axis)
	if err := checkAxis(axis); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.axes, axis)
	return nil
}

// Synchronization returns the current synchronization
func (c *CoTiCtrl) Synchronization() Synchronization {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sync
}

// SetSynchronization selects how the next acquisition is triggered
func (c *CoTiCtrl) SetSynchronization(s Synchronization) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sync = s
}

// StateAll refreshes the state of every axis from the device
func (c *CoTiCtrl) StateAll(ctx context.Context) error {
	status, err := c.em.AcquisitionStatus(ctx)
	if err != nil {
		return err
	}

	state, known := stateFromAcquisition(em2.StateName(status))
	if !known {
		c.log.Warnf("Unknown acquisition state %q", status)
	}

	c.mu.Lock()
	c.state = state
	c.status = status
	c.mu.Unlock()
	return nil
}

// StateOne returns the state read by the last StateAll
func (c *CoTiCtrl) StateOne(axis int) (State, string, error) {
	if err := checkAxis(axis); err != nil {
		return StateFault, "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.status, nil
}

// LoadOne prepares an acquisition of repetitions points of value
// integration time. Only the timer axis can be loaded.
func (c *CoTiCtrl) LoadOne(ctx context.Context, axis int, value time.Duration, repetitions int, latency time.Duration) error {
	if axis != TimerAxis {
		return models.NewError(models.ErrInvalidAxis, "the master channel should be the axis %d, not %d", TimerAxis, axis)
	}

	c.mu.Lock()
	syncMode := c.sync
	c.mu.Unlock()

	if syncMode.IsSoftware() {
		repetitions = 1
	}
	if repetitions < 1 {
		return models.NewError(models.ErrInvalidConfig, "invalid number of repetitions %d", repetitions)
	}
	if !syncMode.IsSoftware() && c.props.ExtTriggerInput == "" {
		return models.NewError(models.ErrInvalidConfig, "external trigger input required for %s", syncMode)
	}

	c.mu.Lock()
	c.itime = value
	c.index = 0
	c.mu.Unlock()

	itime := value
	if itime < MinIntegrationTime {
		c.log.Debugf("Integration time %s below the minimum, using %s", itime, MinIntegrationTime)
		itime = MinIntegrationTime
	}
	if err := c.em.SetAcquisitionTime(ctx, itime); err != nil {
		return err
	}

	if err := c.em.SetTriggerMode(ctx, syncMode.TriggerMode()); err != nil {
		return err
	}
	if !syncMode.IsSoftware() {
		if err := c.em.SetTriggerInput(ctx, c.props.ExtTriggerInput); err != nil {
			return err
		}
	}
	if err := c.em.SetNbPoints(ctx, repetitions); err != nil {
		return err
	}

	c.mu.Lock()
	c.repetitions = repetitions
	c.mu.Unlock()
	return nil
}

// PreStartOne checks the communication before starting
func (c *CoTiCtrl) PreStartOne(ctx context.Context, axis int) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	if axis != TimerAxis {
		c.mu.Lock()
		c.index = 0
		c.mu.Unlock()
	}
	_, err := c.em.AcquisitionState(ctx)
	return err
}

// StartAll starts the acquisition and waits until the device runs it
func (c *CoTiCtrl) StartAll(ctx context.Context) error {
	syncMode := c.Synchronization()
	if err := c.em.StartAcquisition(ctx, syncMode.IsSoftware()); err != nil {
		return err
	}

	deadline := time.Now().Add(StartTimeout)
	for {
		if err := c.StateAll(ctx); err != nil {
			return err
		}
		state, _, _ := c.StateOne(TimerAxis)
		switch state {
		case StateMoving:
			return nil
		case StateOn:
			// short integrations may be over before the first state query
			ready, err := c.em.NbPointsReady(ctx)
			if err != nil {
				return err
			}
			if ready > 0 {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return &models.AlbaEMError{
				Type: models.ErrTimeout,
				Err:  fmt.Errorf("the hardware did not start the acquisition within %s", StartTimeout),
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(em2.PollInterval):
		}
	}
}

// ReadAll fetches the points acquired since the last read and applies the
// channel formulas. The first column is the timer.
func (c *CoTiCtrl) ReadAll(ctx context.Context) error {
	if err := c.readAll(ctx); err != nil {
		return fmt.Errorf("ReadAll error: %w", err)
	}
	return nil
}

func (c *CoTiCtrl) readAll(ctx context.Context) error {
	ready, err := c.em.NbPointsReady(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	index := c.index
	itime := c.itime
	repetitions := c.repetitions
	c.newData = nil
	c.mu.Unlock()

	if index >= ready {
		return nil
	}

	if err := c.em.SetTimestampData(ctx, false); err != nil {
		return err
	}
	data, err := c.em.Read(ctx, index, ready-index)
	if err != nil {
		return err
	}

	columns := make([][]float64, 0, len(data)+1)
	for i, ch := range data {
		f := c.formula(TimerAxis + 1 + i)
		values, err := f.EvalAll(ch.Values)
		if err != nil {
			return fmt.Errorf("%s: %w", ch.Name, err)
		}
		columns = append(columns, values)
	}

	n := models.Points(data)
	timer := make([]float64, n)
	for i := range timer {
		timer[i] = itime.Seconds()
	}
	columns = append([][]float64{timer}, columns...)

	c.mu.Lock()
	c.newData = columns
	if repetitions != 1 {
		c.index += n
	}
	c.mu.Unlock()
	return nil
}

// ReadOne returns the values read by the last ReadAll for axis. With
// software synchronization only the single point of the acquisition is
// returned.
func (c *CoTiCtrl) ReadOne(axis int) ([]float64, error) {
	if err := checkAxis(axis); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if axis > len(c.newData) || len(c.newData[axis-1]) == 0 {
		return nil, nil
	}
	values := c.newData[axis-1]
	if c.sync.IsSoftware() {
		return []float64{values[0]}, nil
	}
	out := make([]float64, len(values))
	copy(out, values)
	return out, nil
}

// AbortOne stops the acquisition
func (c *CoTiCtrl) AbortOne(ctx context.Context, axis int) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return c.em.StopAcquisition(ctx)
}

func (c *CoTiCtrl) formula(axis int) *formula.Formula {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.formulas[axis]; ok {
		return f
	}
	return formula.MustCompile(formula.Identity)
}

func (c *CoTiCtrl) channel(axis int) (*em2.Channel, error) {
	if err := checkChannelAxis(axis); err != nil {
		return nil, err
	}
	return c.em.Channel(axis - 1)
}

// GetAxisPar reads an axis attribute: Range, Inversion, InstantCurrent or Formula
func (c *CoTiCtrl) GetAxisPar(ctx context.Context, axis int, name string) (interface{}, error) {
	ch, err := c.channel(axis)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(name) {
	case "range":
		return ch.Range(ctx)
	case "inversion":
		return ch.Inversion(ctx)
	case "instantcurrent":
		return ch.InstantCurrent(ctx)
	case "formula":
		return c.formula(axis).String(), nil
	default:
		return nil, models.NewError(models.ErrInvalidConfig, "unknown axis attribute %q", name)
	}
}

// SetAxisPar writes an axis attribute: Range, Inversion or Formula
func (c *CoTiCtrl) SetAxisPar(ctx context.Context, axis int, name string, value interface{}) error {
	ch, err := c.channel(axis)
	if err != nil {
		return err
	}

	switch strings.ToLower(name) {
	case "range":
		r, ok := value.(string)
		if !ok {
			return models.NewError(models.ErrInvalidConfig, "range must be a string, got %T", value)
		}
		return ch.SetRange(ctx, r)
	case "inversion":
		enabled, err := toBool(value)
		if err != nil {
			return err
		}
		return ch.SetInversion(ctx, enabled)
	case "formula":
		src, ok := value.(string)
		if !ok {
			return models.NewError(models.ErrInvalidConfig, "formula must be a string, got %T", value)
		}
		f, err := formula.Compile(src)
		if err != nil {
			return models.NewError(models.ErrInvalidConfig, "%v", err)
		}
		c.mu.Lock()
		c.formulas[axis] = f
		c.mu.Unlock()
		return c.store.Save(c.props.Name, keyFormulaPrefix+strconv.Itoa(axis), f.String())
	case "instantcurrent":
		return models.NewError(models.ErrInvalidConfig, "attribute %s is read only", name)
	default:
		return models.NewError(models.ErrInvalidConfig, "unknown axis attribute %q", name)
	}
}

// GetCtrlPar reads a controller attribute: AcquisitionMode or Synchronization
func (c *CoTiCtrl) GetCtrlPar(ctx context.Context, name string) (interface{}, error) {
	switch strings.ToLower(name) {
	case "acquisitionmode":
		return c.em.AcquisitionMode(ctx)
	case "synchronization":
		return c.Synchronization(), nil
	default:
		return nil, models.NewError(models.ErrInvalidConfig, "unknown controller attribute %q", name)
	}
}

// SetCtrlPar writes a controller attribute. The acquisition mode is memorized.
func (c *CoTiCtrl) SetCtrlPar(ctx context.Context, name string, value interface{}) error {
	switch strings.ToLower(name) {
	case "acquisitionmode":
		mode, ok := value.(string)
		if !ok {
			return models.NewError(models.ErrInvalidConfig, "acquisition mode must be a string, got %T", value)
		}
		if err := c.em.SetAcquisitionMode(ctx, mode); err != nil {
			return err
		}
		return c.store.Save(c.props.Name, keyAcquisitionMode, mode)
	case "synchronization":
		switch v := value.(type) {
		case Synchronization:
			c.SetSynchronization(v)
		case string:
			s, err := ParseSynchronization(v)
			if err != nil {
				return models.NewError(models.ErrInvalidConfig, "%v", err)
			}
			c.SetSynchronization(s)
		default:
			return models.NewError(models.ErrInvalidConfig, "invalid synchronization %v", value)
		}
		return nil
	default:
		return models.NewError(models.ErrInvalidConfig, "unknown controller attribute %q", name)
	}
}

func toBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case string:
		switch strings.ToLower(v) {
		case "on", "true", "1", "yes":
			return true, nil
		case "off", "false", "0", "no":
			return false, nil
		}
	}
	return false, models.NewError(models.ErrInvalidConfig, "invalid boolean %v", value)
}
