package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for the motion daemon.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Auth      AuthConfig
	Events    EventsConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Retention RetentionConfig
	Camera    CameraConfig
	Detection DetectionConfig
	Notify    NotifyConfig
	Kafka     KafkaConfig
	NATS      NATSConfig
	Tracing   TracingConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"motionwatch"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"APP_LOG_FORMAT" envDefault:"json"`
}

type HTTPConfig struct {
	Host            string        `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"APP_PORT" envDefault:"8000"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
	WSWriteTimeout  time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"5s"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://127.0.0.1:5173"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Addr is the listen address built from Host and Port.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type AuthConfig struct {
	JWTSecret       string        `env:"APP_JWT_SECRET" envDefault:"super-secret-key"`
	TokenTTL        time.Duration `env:"APP_TOKEN_TTL" envDefault:"1h"`
	DefaultUsername string        `env:"APP_DEFAULT_USERNAME" envDefault:"admin"`
	DefaultPassword string        `env:"APP_DEFAULT_PASSWORD" envDefault:"changeme"`
	BcryptCost      int           `env:"APP_BCRYPT_COST" envDefault:"10"`
}

type EventsConfig struct {
	Limit          int      `env:"EVENTS_LIMIT" envDefault:"200"`
	Sources        []string `env:"EVENT_SOURCES" envSeparator:"," envDefault:"test-cam-1,test-cam-2,simulated-ai"`
	Zones          []string `env:"EVENT_ZONES" envSeparator:"," envDefault:"Front Door,Backyard,Driveway,Garage,Living Room"`
	Severities     []string `env:"EVENT_SEVERITIES" envSeparator:"," envDefault:"low,medium,high"`
	HighSeverity   string   `env:"EVENT_HIGH_SEVERITY" envDefault:"high"`
	PlaceholderURL string   `env:"EVENT_PLACEHOLDER_URL" envDefault:"https://placehold.co/120x68?text=Motion"`
}

type DatabaseConfig struct {
	Path string `env:"DATABASE_PATH" envDefault:"data/motion.db"`
}

type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"local"`
	Dir       string `env:"STORAGE_DIR" envDefault:"data"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET" envDefault:"motion-snapshots"`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type RetentionConfig struct {
	Days     int           `env:"EVENT_RETENTION_DAYS" envDefault:"7"`
	Interval time.Duration `env:"EVENT_PRUNE_INTERVAL" envDefault:"1h"`
}

type CameraConfig struct {
	Enabled               bool          `env:"CAM_MONITOR_ENABLED" envDefault:"true"`
	Source                string        `env:"CAM_SOURCE" envDefault:"synthetic"`
	URL                   string        `env:"CAM_SNAPSHOT_URL"`
	Width                 int           `env:"CAM_WIDTH" envDefault:"320"`
	Height                int           `env:"CAM_HEIGHT" envDefault:"240"`
	FetchTimeout          time.Duration `env:"CAM_FETCH_TIMEOUT" envDefault:"5s"`
	EventSource           string        `env:"CAM_EVENT_SOURCE" envDefault:"laptop_cam"`
	EventMessage          string        `env:"CAM_EVENT_MESSAGE" envDefault:"Laptop camera detected motion"`
	FrameInterval         time.Duration `env:"CAM_FRAME_INTERVAL" envDefault:"1s"`
	RetryDelay            time.Duration `env:"CAM_RETRY_DELAY" envDefault:"1s"`
	MotionThreshold       float64       `env:"CAM_MOTION_THRESHOLD" envDefault:"25"`
	MinArea               int           `env:"CAM_MIN_AREA" envDefault:"5000"`
	BaselineRefreshFrames int           `env:"CAM_BASELINE_REFRESH_FRAMES" envDefault:"150"`
	BlurRadius            int           `env:"CAM_BLUR_RADIUS" envDefault:"10"`
	JPEGQuality           int           `env:"CAM_JPEG_QUALITY" envDefault:"85"`
	StopTimeout           time.Duration `env:"CAM_STOP_TIMEOUT" envDefault:"5s"`
}

type DetectionConfig struct {
	Enabled       bool          `env:"AI_DETECTION_ENABLED" envDefault:"false"`
	Endpoint      string        `env:"AI_DETECTOR_URL"`
	Timeout       time.Duration `env:"AI_DETECTOR_TIMEOUT" envDefault:"10s"`
	MinConfidence float64       `env:"AI_CONFIDENCE_THRESHOLD" envDefault:"0.25"`
	MaxDetections int           `env:"AI_MAX_DETECTIONS" envDefault:"3"`
}

type NotifyConfig struct {
	// Sink is one of webhook, kafka, nats. Empty picks webhook when a URL is set.
	Sink         string        `env:"NOTIFY_SINK"`
	WebhookURL   string        `env:"NOTIFY_WEBHOOK_URL"`
	Timeout      time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
	QueueSize    int           `env:"NOTIFY_QUEUE_SIZE" envDefault:"100"`
	PollInterval time.Duration `env:"NOTIFY_POLL_INTERVAL" envDefault:"1s"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic            string        `env:"KAFKA_NOTIFY_TOPIC" envDefault:"motionwatch.events"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	RequiredAcks     string        `env:"KAFKA_REQUIRED_ACKS" envDefault:"all"`
	WriteTimeout     time.Duration `env:"KAFKA_WRITE_TIMEOUT" envDefault:"5s"`
}

type NATSConfig struct {
	URL     string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Subject string `env:"NATS_SUBJECT" envDefault:"motionwatch.events"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=motionwatch"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
