package config

import (
	"sync"
)

var (
	textractOnce   sync.Once
	textractConfig *TextractConfig
)

type TextractConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	// MaxImageBytes is the largest payload sent as-is; bigger images are downscaled first.
	MaxImageBytes int `yaml:"maxImageBytes"`
}

func GetTextractConfig() *TextractConfig {
	textractOnce.Do(func() {
		loadEnv()

		textractConfig = &TextractConfig{
			Region:        "us-east-1",
			MaxImageBytes: 5 * 1024 * 1024,
		}
		envBool("TEXTRACT_ENABLED", &textractConfig.Enabled)
		envString("AWS_REGION", &textractConfig.Region)
		envString("TEXTRACT_ENDPOINT", &textractConfig.Endpoint)
		envString("AWS_ACCESS_KEY", &textractConfig.AccessKey)
		envString("AWS_SECRET_KEY", &textractConfig.SecretKey)
		envInt("TEXTRACT_MAX_IMAGE_BYTES", &textractConfig.MaxImageBytes)
	})
	return textractConfig
}
