package cycle

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stratalab/dcacycle/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TakeProfitLevel is one take-profit tier: the net profit target above the
// average entry price and the share of the position it sells. Volumes are
// independent per level and need not sum to 100.
type TakeProfitLevel struct {
	Percent       float64 `yaml:"percent" json:"percent" jsonschema:"description=Net profit target in percent above average entry price" validate:"gt=0"`
	VolumePercent float64 `yaml:"volume_percent" json:"volume_percent" jsonschema:"description=Share of the position this level sells in percent" validate:"gt=0,lte=100"`
}

// Config holds all knobs of one trading cycle. Percent fields are plain
// percentages (2.8 means 2.8%); the engine converts them to exact decimal
// fractions before any money math.
type Config struct {
	// Symbol is the trading pair, e.g. BTCUSDT.
	Symbol string `yaml:"symbol" json:"symbol" jsonschema:"description=Trading pair symbol" validate:"required"`
	// QuoteAsset is the asset the deposit is measured in, e.g. USDT.
	QuoteAsset string `yaml:"quote_asset" json:"quote_asset" jsonschema:"description=Quote asset used for balance and deposit sizing" validate:"required"`
	// DepositPercent is the share of the free quote balance committed to
	// each cycle.
	DepositPercent float64 `yaml:"deposit_percent" json:"deposit_percent" jsonschema:"description=Percent of free quote balance committed per cycle" validate:"gt=0,lte=100"`
	// DCACount is the number of staggered limit buys below the entry.
	DCACount int `yaml:"dca_count" json:"dca_count" jsonschema:"description=Number of DCA levels below the market entry" validate:"min=0"`
	// DCAStepPercent is the linear price step between DCA levels: level i
	// is placed at entry * (1 - step% * i).
	DCAStepPercent float64 `yaml:"dca_step_percent" json:"dca_step_percent" jsonschema:"description=Linear percent step between DCA levels" validate:"gte=0"`
	// MartingaleCoefficient is the geometric ratio between consecutive
	// capital shares. 1 means an even split.
	MartingaleCoefficient float64 `yaml:"martingale_coefficient" json:"martingale_coefficient" jsonschema:"description=Geometric ratio between consecutive DCA shares" validate:"gt=0"`
	// TakeProfits are the sell tiers placed once the entry side is done.
	TakeProfits []TakeProfitLevel `yaml:"take_profits" json:"take_profits" jsonschema:"description=Take-profit tiers" validate:"dive"`
	// CommissionRate is the symmetric per-side fee approximation. Zero
	// falls back to the built-in 0.15%.
	CommissionRate float64 `yaml:"commission_rate" json:"commission_rate" jsonschema:"description=Per-side commission rate as a fraction" validate:"gte=0,lt=1"`
}

// DefaultConfig returns the configuration observed to work in production:
// near-full deposit, three DCA levels 2.8% apart with an even split, and
// three equal take-profit tiers.
func DefaultConfig(symbol, quoteAsset string) Config {
	return Config{
		Symbol:                symbol,
		QuoteAsset:            quoteAsset,
		DepositPercent:        99.99,
		DCACount:              3,
		DCAStepPercent:        2.8,
		MartingaleCoefficient: 1,
		TakeProfits: []TakeProfitLevel{
			{Percent: 1.9, VolumePercent: 33},
			{Percent: 3.4, VolumePercent: 33},
			{Percent: 4.9, VolumePercent: 33},
		},
		CommissionRate: 0,
	}
}

// LoadConfig reads a YAML configuration file. Missing keys keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to read config file", err)
	}

	config := DefaultConfig("", "")
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config file", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate validates the Config struct.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid cycle configuration", err)
	}

	// The deepest DCA level must keep a positive price.
	if c.DCAStepPercent*float64(c.DCACount) >= 100 {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"dca_step_percent %.2f with dca_count %d drives the deepest level to a non-positive price",
			c.DCAStepPercent, c.DCACount)
	}

	return nil
}

// Timings are the wait and poll durations of the cycle loop. They are
// separate from Config so tests can shrink them without touching the
// trading parameters.
type Timings struct {
	// MarketWait is the pause after the market entry order.
	MarketWait time.Duration `yaml:"market_wait" json:"market_wait"`
	// DCAWait is the pause after DCA placement.
	DCAWait time.Duration `yaml:"dca_wait" json:"dca_wait"`
	// TPCancelWait is the pause after cancelling stale take-profit orders.
	TPCancelWait time.Duration `yaml:"tp_cancel_wait" json:"tp_cancel_wait"`
	// MonitorDuration is how long each cycle actively polls for fills.
	MonitorDuration time.Duration `yaml:"monitor_duration" json:"monitor_duration"`
	// PollInterval is the fill-poll period during monitoring.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// CycleWait is the pause between cycles.
	CycleWait time.Duration `yaml:"cycle_wait" json:"cycle_wait"`
	// StopCheckInterval bounds how quickly a hard stop interrupts a wait.
	StopCheckInterval time.Duration `yaml:"stop_check_interval" json:"stop_check_interval"`
}

// DefaultTimings returns the production wait schedule.
func DefaultTimings() Timings {
	return Timings{
		MarketWait:        5 * time.Second,
		DCAWait:           10 * time.Second,
		TPCancelWait:      3 * time.Second,
		MonitorDuration:   30 * time.Second,
		PollInterval:      time.Second,
		CycleWait:         15 * time.Second,
		StopCheckInterval: time.Second,
	}
}

// Validate rejects non-positive durations.
func (t *Timings) Validate() error {
	if t.MarketWait <= 0 || t.DCAWait <= 0 || t.TPCancelWait <= 0 ||
		t.MonitorDuration <= 0 || t.PollInterval <= 0 || t.CycleWait <= 0 ||
		t.StopCheckInterval <= 0 {
		return errors.New(errors.ErrCodeInvalidConfiguration, "all cycle timings must be positive")
	}

	return nil
}
