package accumulator

import (
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

const (
	// MaxPayloadBytes is the widest response, in bytes, the decoder reassembles.
	MaxPayloadBytes = 8
	// MaxDataBits is the widest data field the decoder extracts.
	MaxDataBits = 32
)

// DecodeConfig describes how each transaction is turned into a sample. It is fixed for the
// lifetime of an accumulator.
type DecodeConfig struct {
	// TransferWords is the number of words per transaction, including the timestamp word.
	TransferWords int `json:"transfer_words" mapstructure:"transfer_words"`
	// A response is a sample iff response&ValidMask == ValidValue.
	ValidMask  uint64 `json:"valid_mask" mapstructure:"valid_mask"`
	ValidValue uint64 `json:"valid_value" mapstructure:"valid_value"`
	// DataShift is the right shift applied to the response before masking the data field.
	DataShift uint `json:"data_shift" mapstructure:"data_shift"`
	// DataBits is the width of the data field.
	DataBits uint `json:"data_bits" mapstructure:"data_bits"`
	// Signed data fields are sign extended from bit DataBits-1.
	Signed bool `json:"signed" mapstructure:"signed"`
	// BigEndian responses have their most significant byte first.
	BigEndian bool `json:"big_endian" mapstructure:"big_endian"`
}

// Validate ensures all parts of the config are valid.
func (cfg *DecodeConfig) Validate(path string) error {
	if cfg.TransferWords == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "transfer_words")
	}
	if cfg.TransferWords < 2 || cfg.TransferWords > MaxPayloadBytes+1 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("transfer_words must be between 2 and %d, got %d", MaxPayloadBytes+1, cfg.TransferWords))
	}
	if cfg.DataBits == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "data_bits")
	}
	if cfg.DataBits > MaxDataBits {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("data_bits must be at most %d, got %d", MaxDataBits, cfg.DataBits))
	}
	if width := uint(8 * (cfg.TransferWords - 1)); cfg.DataShift+cfg.DataBits > width {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("data field (shift %d, %d bits) does not fit in a %d bit response", cfg.DataShift, cfg.DataBits, width))
	}
	return nil
}

// Config is everything needed to start an accumulator on an automatic transfer engine.
type Config struct {
	// Preset names a known device whose decode parameters are used as defaults.
	Preset string `json:"preset,omitempty" mapstructure:"preset"`
	// Period between automatic transfers.
	Period time.Duration `json:"period" mapstructure:"period"`
	// Command is the request word transmitted on every transfer.
	Command uint32 `json:"command" mapstructure:"command"`

	DecodeConfig `mapstructure:",squash"`

	// Initial tunables; all of them can be changed while running.
	Center           int64   `json:"center,omitempty" mapstructure:"center"`
	Deadband         int64   `json:"deadband,omitempty" mapstructure:"deadband"`
	IntegratedCenter float64 `json:"integrated_center,omitempty" mapstructure:"integrated_center"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Period <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "period")
	}
	if cfg.Deadband < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("deadband cannot be negative, got %d", cfg.Deadband))
	}
	return cfg.DecodeConfig.Validate(path)
}

// PresetADXRS450 is the Analog Devices ADXRS450 single axis gyro: a 32 bit big endian response
// whose bits 10..25 hold the signed rate in units of 1/80 deg/s.
const PresetADXRS450 = "adxrs450"

var presets = map[string]Config{
	PresetADXRS450: {
		Period:  500 * time.Microsecond,
		Command: 0x20000000,
		DecodeConfig: DecodeConfig{
			TransferWords: 5,
			ValidMask:     0x0c00000e,
			ValidValue:    0x04000000,
			DataShift:     10,
			DataBits:      16,
			Signed:        true,
			BigEndian:     true,
		},
	},
}

// ConfigFromAttributes converts a loosely typed attribute map (e.g. parsed JSON) into a validated
// Config. Durations may be given as strings ("500us") and integers as hex strings ("0x0c00000e").
// When a preset is named, its parameters are the defaults and any other attribute overrides them.
func ConfigFromAttributes(attributes map[string]interface{}) (*Config, error) {
	var conf Config
	if name, ok := attributes["preset"].(string); ok && name != "" {
		preset, ok := presets[strings.ToLower(name)]
		if !ok {
			return nil, errors.Errorf("unknown accumulator preset %q", name)
		}
		conf = preset
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &conf,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "decoding accumulator attributes")
	}
	if err := conf.Validate("accumulator"); err != nil {
		return nil, err
	}
	return &conf, nil
}
