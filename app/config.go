package studyroom

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/spf13/viper"

	"github.com/putto11262002/studyroom/core"
)

type Config struct {
	API struct {
		// BaseURL is the collaborator's REST endpoint.
		BaseURL string `validate:"required,url"`
		// Token authenticates every REST and realtime call.
		Token string `validate:"required"`
	}
	// RealtimeURL is the collaborator's websocket endpoint.
	RealtimeURL string `validate:"required,url"`
	User        struct {
		ID   string `validate:"required"`
		Name string `validate:"required"`
	}
	Timer struct {
		// WorkMinutes is the default focus interval. The default is 25.
		WorkMinutes int `validate:"required,min=1"`
		// BreakMinutes is the default break interval. The default is 5.
		BreakMinutes int `validate:"required,min=1"`
	}
	valid bool
}

// LoadConfig loads the configuration from the config file and environment variables.
// Any invalid configuration will not be loaded, and the error will be caught in the validation step.
func LoadConfig() (*Config, error) {
	config := &Config{}
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("timer.workminutes", core.DefaultWorkMinutes)
	viper.SetDefault("timer.breakminutes", core.DefaultBreakMinutes)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
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
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := validate.Struct(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

func FormatValidationErrors(err error) string {

	errors, ok := err.(validator.ValidationErrors)
	if !ok {
		return ""
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
