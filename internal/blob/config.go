package blob

import "github.com/jmoiron/sqlx"

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Endpoint  string `mapstructure:"endpoint"`
}

// Config selects the chunk backend. S3 wins when both are set.
// ChunkSize of zero means MaxChunkSize.
type Config struct {
	Dir       string    `mapstructure:"dir"`
	S3        *S3Config `mapstructure:"s3"`
	ChunkSize int64     `mapstructure:"chunk_size"`
}

type IndexConfig struct {
	DBPath string
	DB     *sqlx.DB
}
