package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	// ServerURL is the base URL of the REST collaborator; /api is
	// appended by the client.
	ServerURL string `mapstructure:"server_url" validate:"required,http_url"`
	// SocketURL is the realtime channel endpoint. The default is derived
	// from ServerURL by swapping the scheme and appending /ws.
	SocketURL string `mapstructure:"socket_url" validate:"required"`
	// Module is the module selected at startup. Optional.
	Module string `mapstructure:"module"`
	// TokenFile is where the bearer token is cached between sessions.
	TokenFile string `mapstructure:"token_file"`
	Metrics   struct {
		// Addr exposes prometheus metrics when set, e.g. ":9180".
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
	valid bool
}

// LoadConfig loads the configuration from the config file and environment
// variables. Decoding errors are deferred to the validation step.
func LoadConfig() (*Config, error) {
	config := &Config{}
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("classchat")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server_url", "http://localhost:8080")
	viper.SetDefault("token_file", ".classchat-token")

	if err := viper.ReadInConfig(); err != nil {
		// a missing config file is fine, the environment can carry
		// everything
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := viper.Unmarshal(&config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		// defer error to validation step
		return config, nil
	}

	if config.SocketURL == "" && config.ServerURL != "" {
		config.SocketURL = deriveSocketURL(config.ServerURL)
	}
	return config, nil
}

func deriveSocketURL(serverURL string) string {
	socket := serverURL
	switch {
	case strings.HasPrefix(socket, "https://"):
		socket = "wss://" + strings.TrimPrefix(socket, "https://")
	case strings.HasPrefix(socket, "http://"):
		socket = "ws://" + strings.TrimPrefix(socket, "http://")
	}
	return strings.TrimSuffix(socket, "/") + "/ws"
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	if err := validate.Struct(c); err != nil {
		return err
	}
	c.valid = true
	return nil
}

func FormatValidationErrors(err error) string {
	errors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errors.Translate(trans)

	var sb strings.Builder
	for _, v := range translated {
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return sb.String()
}
