package config

import (
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Media       Media         `yaml:"media"`
	Tools       Tools         `yaml:"tools"`
	Auth        Auth          `yaml:"auth"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

// Media holds the on-disk layout and encoder settings for the ingest
// pipeline. UploadsDir is both the working area for in-flight jobs and
// the directory served under /uploads.
type Media struct {
	UploadsDir  string `yaml:"uploads_dir"`
	CookiesFile string `yaml:"cookies_file"`
	VAAPIDevice string `yaml:"vaapi_device"`
}

// Tools names the external binaries the pipeline shells out to.
// Overridable so tests can point them at stubs.
type Tools struct {
	FFmpeg string `yaml:"ffmpeg"`
	YtDlp  string `yaml:"ytdlp"`
}

type Auth struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("tools.ffmpeg", "ffmpeg")
	viper.SetDefault("tools.ytdlp", "yt-dlp")
	viper.SetDefault("media.uploads_dir", "uploads")
	viper.SetDefault("media.vaapi_device", "/dev/dri/renderD128")
	viper.SetDefault("server.workers", 4)
	viper.SetDefault("rabbitmq.kind", "topic")

	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	var rabbitmq *RabbitMQ
	if viper.GetBool("rabbitmq.enabled") {
		rabbitmq = &RabbitMQ{
			Host:         viper.GetString("rabbitmq.host"),
			Port:         viper.GetInt("rabbitmq.port"),
			User:         viper.GetString("rabbitmq.user"),
			Pass:         viper.GetString("rabbitmq.pass"),
			ExchangeName: viper.GetString("rabbitmq.exchange_name"),
			Kind:         viper.GetString("rabbitmq.kind"),
		}
	}

	var minioClient *minio.Client
	if viper.GetBool("minio.enabled") {
		minioClient, err = minio.New(viper.GetString("minio.url"), &minio.Options{
			Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
			Secure: false,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		Media: Media{
			UploadsDir:  viper.GetString("media.uploads_dir"),
			CookiesFile: viper.GetString("media.cookies_file"),
			VAAPIDevice: viper.GetString("media.vaapi_device"),
		},
		Tools: Tools{
			FFmpeg: viper.GetString("tools.ffmpeg"),
			YtDlp:  viper.GetString("tools.ytdlp"),
		},
		Auth: Auth{
			JWTSecret: viper.GetString("auth.jwt_secret"),
		},
		DB:      db,
		Queue:   rabbitmq,
		Storage: minioClient,
	}, nil
}
