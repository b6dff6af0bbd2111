package marketdata

import (
	"os"
	"strings"
	"time"
	// alignment timezones are checked with time.LoadLocation
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/oanda-candles/internal/types"
	"github.com/rxtech-lab/oanda-candles/internal/utils"
	"github.com/rxtech-lab/oanda-candles/pkg/errors"
	"github.com/rxtech-lab/oanda-candles/pkg/marketdata/provider"
	"github.com/rxtech-lab/oanda-candles/pkg/marketdata/writer"
	pkgutils "github.com/rxtech-lab/oanda-candles/pkg/utils"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// MinTime is the earliest instant OANDA has candles for (2002-05-07).
const MinTime int64 = 1020800000

// EnvPrefix is the prefix of environment variables overriding config keys, e.g. OANDA_TOKEN.
const EnvPrefix = "OANDA"

// TokenPlaceholder is written to generated config templates.
const TokenPlaceholder = "xxxxxxxxxxxxxxxxxxxxx-xxxxxxxxxxxxxxxxxxxxx"

// DownloadConfig is the user facing configuration of a download.
type DownloadConfig struct {
	Output       string `mapstructure:"output" yaml:"output" json:"output" jsonschema:"title=Output,description=Output file path. Can be absolute or relative,default=candles.csv" validate:"required"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format" json:"output_format" jsonschema:"title=Output Format,description=Output file format,enum=csv,enum=parquet,default=csv" validate:"required,oneof=csv parquet"`
	Hostname     string `mapstructure:"hostname" yaml:"hostname" json:"hostname" jsonschema:"title=Hostname,description=API hostname or one of the environment names practice and live,default=api-fxpractice.oanda.com" validate:"required"`
	Token        string `mapstructure:"token" yaml:"token" json:"token" jsonschema:"title=Token,description=Personal access token from Manage API Access,required" validate:"required"`
	// DatetimeFormat controls how the time column is written, not how times are read from the config.
	DatetimeFormat    string `mapstructure:"datetime_format" yaml:"datetime_format" json:"datetime_format" jsonschema:"title=Datetime Format,enum=UNIX,enum=RFC3339,default=RFC3339" validate:"required,oneof=UNIX RFC3339"`
	Instrument        string `mapstructure:"instrument" yaml:"instrument" json:"instrument" jsonschema:"title=Instrument,description=Base and quote currency delimited by an underscore,default=EUR_USD" validate:"required"`
	Price             string `mapstructure:"price" yaml:"price" json:"price" jsonschema:"title=Price,description=Any combination of M (midpoint) B (bid) and A (ask),default=M" validate:"required"`
	Granularity       string `mapstructure:"granularity" yaml:"granularity" json:"granularity" jsonschema:"title=Granularity,default=M1,enum=S5,enum=S10,enum=S15,enum=S30,enum=M1,enum=M2,enum=M4,enum=M5,enum=M10,enum=M15,enum=M30,enum=H1,enum=H2,enum=H3,enum=H4,enum=H6,enum=H8,enum=H12,enum=D,enum=W,enum=M" validate:"required"`
	Smooth            bool   `mapstructure:"smooth" yaml:"smooth" json:"smooth" jsonschema:"title=Smooth,description=Use the previous close as the open price,default=false"`
	DailyAlignment    int    `mapstructure:"daily_alignment" yaml:"daily_alignment" json:"daily_alignment" jsonschema:"title=Daily Alignment,minimum=0,maximum=23,default=17" validate:"min=0,max=23"`
	AlignmentTimezone string `mapstructure:"alignment_timezone" yaml:"alignment_timezone" json:"alignment_timezone" jsonschema:"title=Alignment Timezone,default=America/New_York" validate:"required"`
	WeeklyAlignment   string `mapstructure:"weekly_alignment" yaml:"weekly_alignment" json:"weekly_alignment" jsonschema:"title=Weekly Alignment,default=Friday,enum=Monday,enum=Tuesday,enum=Wednesday,enum=Thursday,enum=Friday,enum=Saturday,enum=Sunday" validate:"required,oneof=Monday Tuesday Wednesday Thursday Friday Saturday Sunday"`
	// FromTime and ToTime accept UNIX seconds, YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS.
	FromTime string `mapstructure:"from_time" yaml:"from_time" json:"from_time" jsonschema:"title=From Time,description=Start of the range. Defaults to the earliest available data"`
	ToTime   string `mapstructure:"to_time" yaml:"to_time" json:"to_time" jsonschema:"title=To Time,description=End of the range. Defaults to now"`

	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts" jsonschema:"title=Max Attempts,description=Attempts per request on connection errors,default=5" validate:"min=1"`
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval" json:"retry_interval" jsonschema:"title=Retry Interval,description=Pause between attempts"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout" jsonschema:"title=Timeout,description=Timeout of a single request"`
	MetricsFile   string        `mapstructure:"metrics_file" yaml:"metrics_file" json:"metrics_file" jsonschema:"title=Metrics File,description=Write request metrics in the Prometheus text format to this file. Empty disables metrics"`
}

// DefaultDownloadConfig returns the configuration used for keys missing from the config file.
func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		Output:            "candles.csv",
		OutputFormat:      string(writer.FormatCSV),
		Hostname:          PracticeHostname,
		Token:             "",
		DatetimeFormat:    string(types.TimeFormatRFC3339),
		Instrument:        "EUR_USD",
		Price:             "M",
		Granularity:       string(GranularityM1),
		Smooth:            false,
		DailyAlignment:    17,
		AlignmentTimezone: "America/New_York",
		WeeklyAlignment:   "Friday",
		FromTime:          "",
		ToTime:            "",
		MaxAttempts:       provider.DefaultMaxAttempts,
		RetryInterval:     0,
		Timeout:           provider.DefaultTimeout,
		MetricsFile:       "",
	}
}

// LoadDownloadConfig reads a YAML, TOML or JSON config file. Every key can be
// overridden by an environment variable, e.g. OANDA_TOKEN or OANDA_TO_TIME.
func LoadDownloadConfig(path string) (*DownloadConfig, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrCodeConfigMissing, err, "config file %s not found", path)
		}

		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "cannot access config file %s", path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := setDefaults(v, DefaultDownloadConfig()); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "reading config file %s failed", path)
	}

	var cfg DownloadConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "parsing config failed", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every key so that environment overrides apply to keys absent from the file.
func setDefaults(v *viper.Viper, defaults DownloadConfig) error {
	var values map[string]any
	if err := mapstructure.Decode(defaults, &values); err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "encoding config defaults failed", err)
	}

	for key, value := range values {
		v.SetDefault(key, value)
	}

	return nil
}

// Validate checks field constraints and that every value can be used for a request.
func (c *DownloadConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid config", err)
	}

	if !Granularity(c.Granularity).Valid() {
		return errors.Newf(errors.ErrCodeInvalidGranularity, "invalid granularity %q", c.Granularity)
	}

	if _, err := time.LoadLocation(c.AlignmentTimezone); err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid alignment_timezone %q", c.AlignmentTimezone)
	}

	if _, err := c.ToDownloadRequest(); err != nil {
		return err
	}

	return nil
}

// ToDownloadRequest normalizes the config into a DownloadRequest.
// An empty from_time means MinTime, an empty to_time an open-ended download up to now.
func (c *DownloadConfig) ToDownloadRequest() (DownloadRequest, error) {
	price, err := types.ParsePriceClasses(c.Price)
	if err != nil {
		return DownloadRequest{}, errors.Wrapf(errors.ErrCodeInvalidPriceClass, err, "invalid price %q", c.Price)
	}

	from := MinTime

	if strings.TrimSpace(c.FromTime) != "" {
		from, err = utils.ParseUnix(c.FromTime)
		if err != nil {
			return DownloadRequest{}, errors.Wrapf(errors.ErrCodeInvalidTime, err, "invalid from_time %q", c.FromTime)
		}
	}

	to := optional.None[int64]()

	if strings.TrimSpace(c.ToTime) != "" {
		parsed, err := utils.ParseUnix(c.ToTime)
		if err != nil {
			return DownloadRequest{}, errors.Wrapf(errors.ErrCodeInvalidTime, err, "invalid to_time %q", c.ToTime)
		}

		if parsed < from {
			return DownloadRequest{}, errors.Newf(errors.ErrCodeInvalidTime, "to_time %q is before from_time %q", c.ToTime, c.FromTime)
		}

		to = optional.Some(parsed)
	}

	return DownloadRequest{
		Instrument:        c.Instrument,
		Price:             price,
		Granularity:       Granularity(c.Granularity),
		Smooth:            c.Smooth,
		DailyAlignment:    c.DailyAlignment,
		AlignmentTimezone: c.AlignmentTimezone,
		WeeklyAlignment:   c.WeeklyAlignment,
		From:              from,
		To:                to,
	}, nil
}

// ToClientConfig converts the config into a ClientConfig.
func (c *DownloadConfig) ToClientConfig() ClientConfig {
	return ClientConfig{
		ProviderType: provider.ProviderOanda,
		WriterType:   writer.Format(c.OutputFormat),
		OutputPath:   c.Output,
		TimeFormat:   types.TimeFormat(c.DatetimeFormat),
		MetricsFile:  c.MetricsFile,
		Oanda: provider.OandaConfig{
			Hostname:      ResolveHostname(c.Hostname),
			Token:         c.Token,
			MaxAttempts:   c.MaxAttempts,
			RetryInterval: c.RetryInterval,
			Timeout:       c.Timeout,
		},
	}
}

// DownloadConfigSchema returns the JSON schema of DownloadConfig.
func DownloadConfigSchema() (string, error) {
	//nolint:exhaustruct // Empty struct is intentional for schema generation
	return pkgutils.GetSchemaFromConfig(DownloadConfig{})
}

// JSONSchemaExtend lists the environment names and their hostnames as hostname examples.
func (DownloadConfig) JSONSchemaExtend(schema *jsonschema.Schema) {
	hostname, ok := schema.Properties.Get("hostname")
	if !ok {
		return
	}

	environments := GetSupportedEnvironments()
	for _, name := range environments {
		hostname.Examples = append(hostname.Examples, name)
	}

	for _, name := range environments {
		if info, err := GetEnvironmentInfo(name); err == nil {
			hostname.Examples = append(hostname.Examples, info.Hostname)
		}
	}
}

// WriteDownloadConfigTemplate writes the default config as YAML. An existing file is never overwritten.
func WriteDownloadConfigTemplate(path string) error {
	cfg := DefaultDownloadConfig()
	cfg.Token = TokenPlaceholder

	content, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "encoding config template failed", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeWriteFailed, err, "cannot create config file %s", path)
	}
	defer file.Close()

	if _, err := file.Write(content); err != nil {
		return errors.Wrapf(errors.ErrCodeWriteFailed, err, "cannot write config file %s", path)
	}

	return nil
}
