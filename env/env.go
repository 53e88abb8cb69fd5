package env

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/OmGuptaIND/screenrec/config"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Env struct {
	Environment string `mapstructure:"ENVIRONMENT"`
	Port        int    `mapstructure:"PORT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	DatabasePath  string `mapstructure:"DATABASE_PATH"`
	RecordingsDir string `mapstructure:"RECORDINGS_DIR"`

	FFmpegPath   string `mapstructure:"FFMPEG_PATH"`
	ScreenInput  string `mapstructure:"SCREEN_INPUT"`
	ScreenAudio  string `mapstructure:"SCREEN_AUDIO"`
	ScreenWidth  int    `mapstructure:"SCREEN_WIDTH"`
	ScreenHeight int    `mapstructure:"SCREEN_HEIGHT"`
	WebcamDevice string `mapstructure:"WEBCAM_DEVICE"`
	WebcamWidth  int    `mapstructure:"WEBCAM_WIDTH"`
	WebcamHeight int    `mapstructure:"WEBCAM_HEIGHT"`
	MicDevice    string `mapstructure:"MIC_DEVICE"`

	VirtualDisplay    bool   `mapstructure:"VIRTUAL_DISPLAY"`
	VirtualDisplayUrl string `mapstructure:"VIRTUAL_DISPLAY_URL"`

	WebhookUrl     string `mapstructure:"WEBHOOK_URL"`
	InitialCredits int64  `mapstructure:"INITIAL_CREDITS"`

	BucketName     string `mapstructure:"BUCKET_NAME"`
	BucketEndpoint string `mapstructure:"BUCKET_ENDPOINT"`
	BucketAppKey   string `mapstructure:"BUCKET_APP_KEY"`
	BucketKeyId    string `mapstructure:"BUCKET_KEY_ID"`
	BucketRegion   string `mapstructure:"BUCKET_REGION"`

	v *viper.Viper
}

var keys = []string{
	"ENVIRONMENT", "PORT", "LOG_LEVEL",
	"DATABASE_PATH", "RECORDINGS_DIR",
	"FFMPEG_PATH", "SCREEN_INPUT", "SCREEN_AUDIO", "SCREEN_WIDTH", "SCREEN_HEIGHT",
	"WEBCAM_DEVICE", "WEBCAM_WIDTH", "WEBCAM_HEIGHT", "MIC_DEVICE",
	"VIRTUAL_DISPLAY", "VIRTUAL_DISPLAY_URL",
	"WEBHOOK_URL", "INITIAL_CREDITS",
	"BUCKET_NAME", "BUCKET_ENDPOINT", "BUCKET_APP_KEY", "BUCKET_KEY_ID", "BUCKET_REGION",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("PORT", 3000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_PATH", config.RECORDING_DIR+"/tutorials.db")
	v.SetDefault("RECORDINGS_DIR", config.RECORDING_DIR)
	v.SetDefault("FFMPEG_PATH", "ffmpeg")
	v.SetDefault("SCREEN_INPUT", ":0.0")
	v.SetDefault("SCREEN_AUDIO", "default")
	v.SetDefault("SCREEN_WIDTH", 0)
	v.SetDefault("SCREEN_HEIGHT", 0)
	v.SetDefault("WEBCAM_DEVICE", "/dev/video0")
	v.SetDefault("WEBCAM_WIDTH", 640)
	v.SetDefault("WEBCAM_HEIGHT", 480)
	v.SetDefault("MIC_DEVICE", "default")
	v.SetDefault("VIRTUAL_DISPLAY", false)
	v.SetDefault("VIRTUAL_DISPLAY_URL", "about:blank")
	v.SetDefault("WEBHOOK_URL", "")
	v.SetDefault("INITIAL_CREDITS", config.DEFAULT_INITIAL_CREDITS)
	v.SetDefault("BUCKET_NAME", "")
	v.SetDefault("BUCKET_ENDPOINT", "")
	v.SetDefault("BUCKET_APP_KEY", "")
	v.SetDefault("BUCKET_KEY_ID", "")
	v.SetDefault("BUCKET_REGION", "")
}

// LoadEnvironmentVariables loads the configuration from the given .env file and the process
// environment. A missing file is not an error; environment variables win over the file.
func LoadEnvironmentVariables(path string) (*Env, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")

		if err := v.ReadInConfig(); err != nil {
			var pathErr *fs.PathError
			var notFound viper.ConfigFileNotFoundError

			if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	env := &Env{v: v}

	if err := v.Unmarshal(env); err != nil {
		return nil, err
	}

	return env, nil
}

// OnLogLevelChange watches the config file and calls fn with the new LOG_LEVEL after every
// write to it.
func (e *Env) OnLogLevelChange(fn func(level string)) {
	if e.v == nil || e.v.ConfigFileUsed() == "" {
		return
	}

	if _, err := os.Stat(e.v.ConfigFileUsed()); err != nil {
		return
	}

	e.v.OnConfigChange(func(in fsnotify.Event) {
		if !in.Has(fsnotify.Write) && !in.Has(fsnotify.Create) {
			return
		}

		fn(e.v.GetString("LOG_LEVEL"))
	})

	e.v.WatchConfig()
}

// IsDevelopment returns true if the environment is development
func (e *Env) IsDevelopment() bool {
	return e.Environment == "development"
}

// HasBucket reports whether an S3 compatible bucket is configured for artifact uploads.
func (e *Env) HasBucket() bool {
	return e.BucketName != "" && e.BucketEndpoint != ""
}
