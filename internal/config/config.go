package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor CONFIG_PATH is given.
const DefaultPath = "config.yaml"

// AppConfig is the full runtime configuration of the capture daemon.
type AppConfig struct {
	Location LocationConfig `yaml:"location"`
	Camera   CameraConfig   `yaml:"camera"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Debug    DebugConfig    `yaml:"debug"`
	Sun      SunConfig      `yaml:"sun"`
	Weather  WeatherConfig  `yaml:"weather"`
	Overlay  OverlayConfig  `yaml:"overlay"`
	Upload   UploadConfig   `yaml:"upload"`
	Metadata MetadataConfig `yaml:"metadata"`
	Status   StatusConfig   `yaml:"status"`
	Log      LogConfig      `yaml:"log"`
}

// LocationConfig is the fixed geographic location of the camera.
type LocationConfig struct {
	Name          string  `yaml:"name" validate:"required"`
	Latitude      float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude     float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
	CameraHeading string  `yaml:"camera_heading"`
}

type CameraConfig struct {
	RTSPURL        string        `yaml:"rtsp_url" validate:"required,startswith=rtsp://"`
	RTSPUser       string        `yaml:"rtsp_user"`
	RTSPPassword   string        `yaml:"rtsp_password"`
	FFmpegPath     string        `yaml:"ffmpeg_path"`
	FFmpegArgs     string        `yaml:"ffmpeg_args"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxOutputBytes int64         `yaml:"max_output_bytes" validate:"gt=0"`
}

// ScheduleConfig holds the day and night capture cadence.
type ScheduleConfig struct {
	DayIntervalMinutes   int           `yaml:"day_interval_minutes" validate:"min=1,max=1440"`
	NightIntervalMinutes int           `yaml:"night_interval_minutes" validate:"min=1,max=1440"`
	TransitionCheck      time.Duration `yaml:"transition_check" validate:"gt=0"`
}

// DebugConfig replaces the schedule with short second-based intervals when enabled.
type DebugConfig struct {
	Enabled              bool `yaml:"enabled"`
	DayIntervalSeconds   int  `yaml:"day_interval_seconds" validate:"min=1,max=3600"`
	NightIntervalSeconds int  `yaml:"night_interval_seconds" validate:"min=1,max=3600"`
}

type SunConfig struct {
	// Override forces "day" or "night" regardless of the sun position.
	Override string `yaml:"override" validate:"omitempty,oneof=day night"`
}

type WeatherConfig struct {
	Enabled  bool          `yaml:"enabled"`
	ICAOCode string        `yaml:"icao_code" validate:"omitempty,len=4,alphanum"`
	APIURL   string        `yaml:"api_url" validate:"required,url"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

type OverlayConfig struct {
	Enabled         bool        `yaml:"enabled"`
	Position        string      `yaml:"position" validate:"oneof=top-left top-right bottom-left bottom-right"`
	FontSize        int         `yaml:"font_size" validate:"min=6,max=200"`
	FontColor       string      `yaml:"font_color"`
	FontPath        string      `yaml:"font_path"`
	BackgroundColor string      `yaml:"background_color"`
	Quality         int         `yaml:"quality" validate:"min=1,max=100"`
	Icon            *IconConfig `yaml:"icon"`
}

// IconConfig selects the badge icon. The first non-empty source wins: SVG, then Path, then URL.
type IconConfig struct {
	SVG  string `yaml:"svg"`
	Path string `yaml:"path"`
	URL  string `yaml:"url" validate:"omitempty,url"`
	Size int    `yaml:"size" validate:"min=1,max=512"`
	Side string `yaml:"side" validate:"oneof=left right"`
}

type UploadConfig struct {
	Method         string        `yaml:"method" validate:"oneof=api sftp s3"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxAttempts    int           `yaml:"max_attempts" validate:"min=1,max=10"`
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"gte=0"`
	FilenamePrefix string        `yaml:"filename_prefix"`
	CleanCopy      bool          `yaml:"clean_copy"`
	API            *APIConfig    `yaml:"api"`
	SFTP           *SFTPConfig   `yaml:"sftp"`
	S3             *S3Config     `yaml:"s3"`
}

// APIConfig is the HTTP PUT sink.
type APIConfig struct {
	URL string `yaml:"url" validate:"required,url"`
	Key string `yaml:"key" validate:"required"`
}

type SFTPConfig struct {
	Host           string `yaml:"host" validate:"required"`
	Port           int    `yaml:"port" validate:"min=1,max=65535"`
	User           string `yaml:"user" validate:"required"`
	Password       string `yaml:"password" validate:"required"`
	RemotePath     string `yaml:"remote_path" validate:"required"`
	KnownHostsFile string `yaml:"known_hosts_file"`
	ImageBaseURL   string `yaml:"image_base_url" validate:"omitempty,url"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint" validate:"required"`
	Bucket    string `yaml:"bucket" validate:"required"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key" validate:"required"`
	SecretKey string `yaml:"secret_key" validate:"required"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// MetadataConfig controls the EXIF and XMP block written into every image.
type MetadataConfig struct {
	Embed        bool   `yaml:"embed"`
	CameraName   string `yaml:"camera_name"`
	ProviderName string `yaml:"provider_name"`
	WebcamURL    string `yaml:"webcam_url" validate:"omitempty,url"`
	License      string `yaml:"license"`
	LicenseURL   string `yaml:"license_url" validate:"omitempty,url"`
	LicenseMark  string `yaml:"license_mark"`
}

// StatusConfig controls the local status API. An empty Addr disables it.
type StatusConfig struct {
	Addr       string        `yaml:"addr"`
	MaxHistory int           `yaml:"max_history" validate:"gte=0"`
	MaxAge     time.Duration `yaml:"max_age" validate:"gte=0"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Defaults returns a configuration with every optional field populated.
func Defaults() *AppConfig {
	return &AppConfig{
		Camera: CameraConfig{
			FFmpegPath:     "ffmpeg",
			Timeout:        30 * time.Second,
			MaxOutputBytes: 20 << 20,
		},
		Schedule: ScheduleConfig{
			TransitionCheck: 5 * time.Minute,
		},
		Debug: DebugConfig{
			DayIntervalSeconds:   10,
			NightIntervalSeconds: 30,
		},
		Weather: WeatherConfig{
			APIURL:   "https://aviationweather.gov/api/data/metar",
			Timeout:  10 * time.Second,
			CacheTTL: 5 * time.Minute,
		},
		Overlay: OverlayConfig{
			Position:        "bottom-left",
			FontSize:        16,
			FontColor:       "white",
			BackgroundColor: "rgba(0,0,0,0.6)",
			Quality:         90,
		},
		Upload: UploadConfig{
			Method:         "api",
			Timeout:        30 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			FilenamePrefix: "webcam",
		},
		Metadata: MetadataConfig{
			Embed: true,
		},
		Status: StatusConfig{
			Addr:       "127.0.0.1:8080",
			MaxHistory: 100,
			MaxAge:     24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads .env (if present), the YAML file at path and environment overrides,
// then validates the result.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = getenvDefault("CONFIG_PATH", DefaultPath)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML on top of Defaults, applies environment overrides and validates.
func Parse(raw []byte) (*AppConfig, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Weather.ICAOCode = strings.ToUpper(cfg.Weather.ICAOCode)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills nested optional blocks that YAML may have introduced empty.
func applyDefaults(cfg *AppConfig) {
	if icon := cfg.Overlay.Icon; icon != nil {
		if icon.Size == 0 {
			icon.Size = 24
		}
		if icon.Side == "" {
			icon.Side = "left"
		}
	}
	if cfg.Upload.SFTP != nil && cfg.Upload.SFTP.Port == 0 {
		cfg.Upload.SFTP.Port = 22
	}
	if cfg.Metadata.CameraName == "" {
		cfg.Metadata.CameraName = cfg.Location.Name
	}
}

func applyEnv(cfg *AppConfig) error {
	if v := os.Getenv("UPLOAD_API_KEY"); v != "" && cfg.Upload.API != nil {
		cfg.Upload.API.Key = v
	}
	if v := os.Getenv("SFTP_PASSWORD"); v != "" && cfg.Upload.SFTP != nil {
		cfg.Upload.SFTP.Password = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" && cfg.Upload.S3 != nil {
		cfg.Upload.S3.SecretKey = v
	}
	if v := os.Getenv("RTSP_PASSWORD"); v != "" {
		cfg.Camera.RTSPPassword = v
	}
	cfg.Log.Level = strings.ToLower(getenvDefault("LOG_LEVEL", cfg.Log.Level))
	cfg.Status.Addr = getenvDefault("STATUS_ADDR", cfg.Status.Addr)
	cfg.Sun.Override = strings.ToLower(getenvDefault("DEBUG_DAY_NIGHT_MODE", cfg.Sun.Override))

	debug, err := getenvBool("DEBUG_MODE", cfg.Debug.Enabled)
	if err != nil {
		return fmt.Errorf("invalid DEBUG_MODE: %w", err)
	}
	cfg.Debug.Enabled = debug
	return nil
}

// DayInterval is the capture period while the sun is up.
func (c *AppConfig) DayInterval() time.Duration {
	if c.Debug.Enabled {
		return time.Duration(c.Debug.DayIntervalSeconds) * time.Second
	}
	return time.Duration(c.Schedule.DayIntervalMinutes) * time.Minute
}

// NightInterval is the capture period while the sun is down.
func (c *AppConfig) NightInterval() time.Duration {
	if c.Debug.Enabled {
		return time.Duration(c.Debug.NightIntervalSeconds) * time.Second
	}
	return time.Duration(c.Schedule.NightIntervalMinutes) * time.Minute
}

// TransitionCheckPeriod is how often the day/night state is re-evaluated.
func (c *AppConfig) TransitionCheckPeriod() time.Duration {
	if c.Debug.Enabled {
		return 30 * time.Second
	}
	return c.Schedule.TransitionCheck
}

// WeatherOverlay reports whether cycles should fetch conditions and draw a badge.
func (c *AppConfig) WeatherOverlay() bool {
	return c.Weather.Enabled && c.Overlay.Enabled
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}
