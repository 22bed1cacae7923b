package helper

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// OpenAIConfiguration holds the credentials for the OpenAI embedding
// provider.
type OpenAIConfiguration struct {
	APIKey string
}

// NewOpenAIConfiguration loads the OpenAI configuration from the environment.
// A .env file is loaded when present but is not required.
func NewOpenAIConfiguration() (*OpenAIConfiguration, error) {
	_ = godotenv.Load()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, NewError("load openai configuration", fmt.Errorf("OPENAI_API_KEY must be set"))
	}

	return &OpenAIConfiguration{APIKey: apiKey}, nil
}
