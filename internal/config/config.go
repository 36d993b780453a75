// Package config loads rollcall settings from defaults, an optional .env file,
// ROLLCALL_* environment variables and command line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. ROLLCALL_CAMERA_DEVICE.
const EnvPrefix = "ROLLCALL"

type CameraConfig struct {
	Driver      string        `mapstructure:"driver" validate:"oneof=v4l2 ffmpeg"`
	Device      string        `mapstructure:"device" validate:"required"`
	InputFormat string        `mapstructure:"input_format"`
	Width       int           `mapstructure:"width" validate:"gte=0"`
	Height      int           `mapstructure:"height" validate:"gte=0"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout" validate:"gt=0"`
}

type EmbedderConfig struct {
	Command            string        `mapstructure:"command" validate:"required"`
	Args               []string      `mapstructure:"args"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	DetectionThreshold float64       `mapstructure:"detection_threshold" validate:"gte=0,lte=1"`
	Debug              bool          `mapstructure:"debug"`
}

type LedgerConfig struct {
	Path  string `mapstructure:"path" validate:"required"`
	Scope string `mapstructure:"scope" validate:"oneof=file run"`
}

type BackendConfig struct {
	URL     string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ClassID int           `mapstructure:"class_id" validate:"gte=0"`
}

type PreviewConfig struct {
	Path  string `mapstructure:"path"`
	Every int    `mapstructure:"every" validate:"gte=0"`
}

type ServeConfig struct {
	Addr    string   `mapstructure:"addr" validate:"required"`
	Origins []string `mapstructure:"origins"`
}

// Config is the full set of settings shared by all commands.
type Config struct {
	LogLevel       string        `mapstructure:"log_level" validate:"oneof=trace debug info warn warning error"`
	FacesDir       string        `mapstructure:"faces_dir" validate:"required"`
	NthFrame       int           `mapstructure:"nth_frame" validate:"gte=1"`
	Cooldown       time.Duration `mapstructure:"cooldown" validate:"gte=0"`
	DownscaleWidth int           `mapstructure:"downscale_width" validate:"gte=0"`
	Threshold      float64       `mapstructure:"threshold" validate:"gt=0"`
	Headless       bool          `mapstructure:"headless"`
	DatabaseURL    string        `mapstructure:"db"`

	Camera   CameraConfig   `mapstructure:"camera"`
	Embedder EmbedderConfig `mapstructure:"embedder"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Preview  PreviewConfig  `mapstructure:"preview"`
	Serve    ServeConfig    `mapstructure:"serve"`
}

// ReferenceDir is where the reference images of one course offering live.
func (c *Config) ReferenceDir(course, semester string) string {
	return strings.Join([]string{strings.TrimRight(c.FacesDir, "/"), course, semester}, "/")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("faces_dir", "Faces")
	v.SetDefault("nth_frame", 1)
	v.SetDefault("cooldown", 2*time.Second)
	v.SetDefault("downscale_width", 0)
	v.SetDefault("threshold", 10.0)
	v.SetDefault("headless", false)
	v.SetDefault("db", "")

	v.SetDefault("camera.driver", "v4l2")
	v.SetDefault("camera.device", "/dev/video0")
	v.SetDefault("camera.input_format", "")
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.wait_timeout", 5*time.Second)

	v.SetDefault("embedder.command", "python3")
	v.SetDefault("embedder.args", []string{"-u", "python/embed_worker.py"})
	v.SetDefault("embedder.read_timeout", 30*time.Second)
	v.SetDefault("embedder.detection_threshold", 0.5)
	v.SetDefault("embedder.debug", false)

	v.SetDefault("ledger.path", "attendance.csv")
	v.SetDefault("ledger.scope", "file")

	v.SetDefault("backend.url", "")
	v.SetDefault("backend.timeout", 5*time.Second)
	v.SetDefault("backend.class_id", 1)

	v.SetDefault("preview.path", "")
	v.SetDefault("preview.every", 1)

	v.SetDefault("serve.addr", ":5000")
	v.SetDefault("serve.origins", []string{
		"http://localhost:5173",
		"http://127.0.0.1:5173",
		"http://localhost:3000",
		"http://localhost:8000",
		"http://127.0.0.1:8000",
	})
}

// LoadDotEnv copies the variables of a .env file into the process environment.
// A missing file is not an error. Variables that are already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// NewViper returns a viper instance with defaults and environment bindings.
// Environment variables are read lazily, so LoadDotEnv may run after this.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Headless mode is also honored under its historical unprefixed name
	_ = v.BindEnv("headless", EnvPrefix+"_HEADLESS", "HEADLESS")
	return v
}

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New()

	english := en.New()
	uni := ut.New(english, english)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Report the config key, not the Go field name
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
	})
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, describe(err)
	}
	return &cfg, nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is Config.camera.driver; drop the struct name
		key := fe.Namespace()
		if i := strings.Index(key, "."); i >= 0 {
			key = key[i+1:]
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", key, fe.Translate(translator)))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
