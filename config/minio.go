package config

import (
	"sync"
)

var (
	minioOnce   sync.Once
	minioConfig *MinioConfig
)

type MinioConfig struct {
	AccessKey  string `yaml:"accessKey"`
	SecretKey  string `yaml:"secretKey"`
	Endpoint   string `yaml:"endpoint"`
	UseSSL     bool   `yaml:"useSSL"`
	Region     string `yaml:"region"`
	BucketName string `yaml:"bucket"`
}

func GetMinioConfig() *MinioConfig {
	minioOnce.Do(func() {
		loadEnv()

		minioConfig = &MinioConfig{
			Endpoint:   "localhost:9000",
			BucketName: "documents",
		}
		envString("MINIO_ACCESS_KEY", &minioConfig.AccessKey)
		envString("MINIO_SECRET_KEY", &minioConfig.SecretKey)
		envString("MINIO_ENDPOINT", &minioConfig.Endpoint)
		envBool("MINIO_USE_SSL", &minioConfig.UseSSL)
		envString("MINIO_REGION", &minioConfig.Region)
		envString("MINIO_BUCKET_NAME", &minioConfig.BucketName)
	})
	return minioConfig
}
