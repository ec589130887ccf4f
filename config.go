package loransim

import (
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/rot226/loransim/lorawan"
)

// TransmissionMode selects how uplink inter-arrival times are drawn.
type TransmissionMode string

// Available transmission modes.
const (
	// TransmissionRandom draws exponential inter-arrivals (Poisson
	// traffic) with mean PacketInterval.
	TransmissionRandom TransmissionMode = "Random"

	// TransmissionPeriodic sends every PacketInterval seconds, with a
	// uniform initial phase.
	TransmissionPeriodic TransmissionMode = "Periodic"
)

// ChannelConfig holds the radio parameters applied to every configured
// frequency.
type ChannelConfig struct {
	BandwidthHz        int     `yaml:"bandwidth_hz"`
	CodingRate         int     `yaml:"coding_rate"`
	PathLossExponent   float64 `yaml:"path_loss_exponent"`
	SystemLossDB       float64 `yaml:"system_loss_db"`
	NoiseFigureDB      float64 `yaml:"noise_figure_db"`
	InterferenceDB     float64 `yaml:"interference_db"`
	RSSIOffsetDB       float64 `yaml:"rssi_offset_db"`
	SNROffsetDB        float64 `yaml:"snr_offset_db"`
	CaptureThresholdDB float64 `yaml:"capture_threshold_db"`
	ShadowingStd       float64 `yaml:"shadowing_std"`
	FastFadingStd      float64 `yaml:"fast_fading_std"`
	TimeVariationStd   float64 `yaml:"time_variation_std"`
	FineFadingStd      float64 `yaml:"fine_fading_std"`
	NoiseFloorStd      float64 `yaml:"noise_floor_std"`
	TXPowerStd         float64 `yaml:"tx_power_std"`
	FreqOffsetHz       float64 `yaml:"freq_offset_hz"`
	SyncOffsetS        float64 `yaml:"sync_offset_s"`
	Variant            string  `yaml:"variant"`
	PreambleLength     int     `yaml:"preamble_length"`
}

// Config describes one simulation scenario.
type Config struct {
	NumNodes    int     `yaml:"num_nodes"`
	NumGateways int     `yaml:"num_gateways"`
	AreaSize    float64 `yaml:"area_size"`

	TransmissionMode TransmissionMode `yaml:"transmission_mode"`
	PacketInterval   float64          `yaml:"packet_interval"`
	PacketsToSend    int              `yaml:"packets_to_send"`
	PayloadSize      int              `yaml:"payload_size"`

	ADRNode   bool `yaml:"adr_node"`
	ADRServer bool `yaml:"adr_server"`

	// DutyCycle is the regulatory factor (0.01 for 1%); 0 disables
	// enforcement.
	DutyCycle float64 `yaml:"duty_cycle"`

	Mobility         bool    `yaml:"mobility"`
	MobilitySpeedMin float64 `yaml:"mobility_speed_min"`
	MobilitySpeedMax float64 `yaml:"mobility_speed_max"`
	MobilityStep     float64 `yaml:"mobility_step"`

	ChannelFrequencies  []int        `yaml:"channel_frequencies"`
	ChannelDistribution Distribution `yaml:"channel_distribution"`
	Channel             ChannelConfig `yaml:"channel"`

	// FixedSF pins every node to one spreading factor; 0 draws uniformly
	// from [7, 12].
	FixedSF int `yaml:"fixed_sf"`

	// FixedTXPower pins the initial transmit power; nil defaults to
	// 14 dBm.
	FixedTXPower *float64 `yaml:"fixed_tx_power"`

	// BatteryCapacityJ gives every node a finite battery; 0 means
	// unlimited.
	BatteryCapacityJ float64 `yaml:"battery_capacity_j"`

	// DeviceClass is the class of every node (A, B or C).
	DeviceClass string `yaml:"device_class"`

	// Security enables OTAA activation with per-node root keys.
	Security bool `yaml:"security"`

	// JoinServer attaches a join server handling the OTAA flow; implies
	// Security.
	JoinServer bool `yaml:"join_server"`

	Seed int64 `yaml:"seed"`
}

// DefaultConfig returns the baseline scenario: ten static Class A nodes, one
// centered gateway, Poisson traffic and a 1% duty cycle.
func DefaultConfig() Config {
	return Config{
		NumNodes:            10,
		NumGateways:         1,
		AreaSize:            1000.0,
		TransmissionMode:    TransmissionRandom,
		PacketInterval:      60.0,
		PayloadSize:         20,
		DutyCycle:           0.01,
		MobilitySpeedMin:    2.0,
		MobilitySpeedMax:    10.0,
		MobilityStep:        10.0,
		ChannelDistribution: DistributionRoundRobin,
		DeviceClass:         "A",
		Seed:                1,
	}
}

// LoadConfig reads a YAML scenario on top of the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errors.Wrap(err, "decode config error")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects scenarios the simulator cannot run. Configuration errors
// are the only fatal errors in the system.
func (c *Config) Validate() error {
	if c.NumNodes <= 0 {
		return errors.New("loransim: num_nodes must be positive")
	}
	if c.NumGateways <= 0 {
		return errors.New("loransim: num_gateways must be positive")
	}
	if c.AreaSize <= 0 {
		return errors.New("loransim: area_size must be positive")
	}
	switch c.TransmissionMode {
	case TransmissionRandom, TransmissionPeriodic:
	default:
		return errors.Errorf("loransim: unknown transmission mode %q", c.TransmissionMode)
	}
	if c.PacketInterval <= 0 {
		return errors.New("loransim: packet_interval must be positive")
	}
	if c.PayloadSize <= 0 {
		return errors.New("loransim: payload_size must be positive")
	}
	if c.DutyCycle < 0 || c.DutyCycle >= 1 {
		return errors.New("loransim: duty_cycle must be in [0, 1)")
	}
	if c.FixedSF != 0 && (c.FixedSF < lorawan.SFMin || c.FixedSF > lorawan.SFMax) {
		return errors.Errorf("loransim: fixed_sf %d out of range [%d, %d]", c.FixedSF, lorawan.SFMin, lorawan.SFMax)
	}
	if c.FixedTXPower != nil && (*c.FixedTXPower < lorawan.TXMinDBm || *c.FixedTXPower > lorawan.TXMaxDBm) {
		return errors.Errorf("loransim: fixed_tx_power %.1f out of range [%.1f, %.1f]", *c.FixedTXPower, lorawan.TXMinDBm, lorawan.TXMaxDBm)
	}
	if !lorawan.DeviceClass(c.deviceClassByte()).Valid() {
		return errors.Errorf("loransim: unknown device class %q", c.DeviceClass)
	}
	if c.Mobility && (c.MobilitySpeedMin < 0 || c.MobilitySpeedMax < c.MobilitySpeedMin) {
		return errors.New("loransim: invalid mobility speed range")
	}
	switch c.ChannelDistribution {
	case "", DistributionRoundRobin, DistributionRandom:
	default:
		return errors.Errorf("loransim: unknown channel distribution %q", c.ChannelDistribution)
	}
	return nil
}

func (c *Config) deviceClassByte() byte {
	if c.DeviceClass == "" {
		return 'A'
	}
	return c.DeviceClass[0]
}
